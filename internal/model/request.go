package model

type SignInRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type SignUpRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	Name       string `json:"name"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}
