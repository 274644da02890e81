package models

type User struct {
	ID         string `json:"id"`
	LegacyID   string `json:"_id,omitempty"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	ProfilePic string `json:"profilePic,omitempty"`
	Address    string `json:"address,omitempty"`
}

// Identity returns the id the backend knows the user by.
func (u User) Identity() string {
	if u.ID != "" {
		return u.ID
	}
	return u.LegacyID
}
