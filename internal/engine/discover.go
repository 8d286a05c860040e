package engine

import (
	"context"
	"sort"
	"strings"

	"grantdesk/internal/domain"
)

// Criterion weights sum to 100 when a profile supplies every field; partial
// profiles are scored over the fields they provide.
const (
	weightLocation  = 30
	weightApplicant = 25
	weightSector    = 25
	weightAmount    = 20
)

// Discover scores the grant catalog against an applicant profile. An empty
// profile or empty catalog yields an empty slice.
func (e Engine) Discover(ctx context.Context, p domain.Profile) ([]domain.Match, error) {
	matches := []domain.Match{}
	if p.Location == "" && p.ApplicantType == "" && p.Sector == "" && p.AmountNeeded == 0 {
		return matches, nil
	}
	grants, err := e.Repo.ListGrants(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		score := scoreGrant(g, p)
		matches = append(matches, domain.Match{
			Grant: g,
			Score: score,
			Band:  ScoreBand(score),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

func scoreGrant(g domain.Grant, p domain.Profile) int {
	earned, possible := 0, 0
	if p.Location != "" {
		possible += weightLocation
		if containsFold(g.Locations, p.Location) {
			earned += weightLocation
		}
	}
	if p.ApplicantType != "" {
		possible += weightApplicant
		if containsFold(g.ApplicantTypes, p.ApplicantType) {
			earned += weightApplicant
		}
	}
	if p.Sector != "" {
		possible += weightSector
		if containsFold(g.Sectors, p.Sector) {
			earned += weightSector
		}
	}
	if p.AmountNeeded > 0 {
		possible += weightAmount
		if p.AmountNeeded >= g.MinAmount && p.AmountNeeded <= g.MaxAmount {
			earned += weightAmount
		}
	}
	if possible == 0 {
		return 0
	}
	return earned * 100 / possible
}

// ScoreBand labels a 0-100 score.
func ScoreBand(score int) string {
	switch {
	case score >= 80:
		return "Likely Match"
	case score >= 50:
		return "Possible Match"
	default:
		return "Low Match"
	}
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
