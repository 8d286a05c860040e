package server

import (
	"grantdesk/internal/domain"
)

type IntakeRequest struct {
	ClientName   string `json:"client_name" example:"Dana Alvarez"`
	ClientEmail  string `json:"client_email" format:"email" example:"dana@example.org"`
	GrantName    string `json:"grant_name" example:"Local Small Business Support Program"`
	Applicant    string `json:"applicant,omitempty"`
	Purpose      string `json:"purpose,omitempty"`
	UseOfFunds   string `json:"use_of_funds,omitempty"`
	Deadline     string `json:"deadline,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	Status       string `json:"status,omitempty" enum:",PAID,APPROVED"`
}

// RequestResponse is a request plus the operator actions currently valid for
// it, derived from the same transition table the engine enforces.
type RequestResponse struct {
	domain.Request
	Actions domain.Actions `json:"actions"`
}

type paginatedRequests struct {
	Items      []RequestResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type AnalyzeRequest struct {
	Input string `json:"input"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

func requestResponse(r domain.Request) RequestResponse {
	return RequestResponse{Request: r, Actions: domain.ActionsFor(r)}
}

func mapRequests(items []domain.Request) []RequestResponse {
	res := make([]RequestResponse, 0, len(items))
	for _, r := range items {
		res = append(res, requestResponse(r))
	}
	return res
}
