package provisionusername

// Input asks for an account named Username. Name is the submitter's display
// name and is split into first and last name.
type Input struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	ClientIP string `json:"clientIp,omitempty"`
}

type Output struct {
	Username  string `json:"username"`
	Attempts  int    `json:"attempts"`
	Requested string `json:"requestedUsername"`
}
