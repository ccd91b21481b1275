package identity

// currentUser is the pinned shape of the backend's "who am I" payload.
// The backend historically answered with several envelope variants; this
// gateway accepts exactly one and rejects the rest loudly.
type currentUser struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role" validate:"required,oneof=STUDENT TUTOR ADMIN"`
}

type currentUserResponse struct {
	Data *currentUser `json:"data" validate:"required"`
}
