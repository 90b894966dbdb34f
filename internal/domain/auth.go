package domain

// LoginRequest is the body for POST /v1/auth/login.
type LoginRequest struct {
	OperatorID string `json:"operatorId"`
	Password   string `json:"password"`
}

// LoginResponse is the body for 200 from POST /v1/auth/login.
type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int    `json:"expiresIn"`
	OperatorID   string `json:"operatorId"`
	OperatorName string `json:"operatorName"`
	SiteCode     string `json:"siteCode,omitempty"`
}
