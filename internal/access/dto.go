package access

import "errors"

// RegisterDTO is the payload for the first-run registration flow. The
// email always comes from the verified identity token, never the body.
type RegisterDTO struct {
	Name string `json:"name"`
}

func (dto RegisterDTO) Validate() error {
	if len(dto.Name) > 200 {
		return errors.New("name must be less than 200 characters")
	}
	return nil
}

// ResolveResponse wraps AccessDetails for the add-on frontend.
type ResolveResponse struct {
	Registered bool           `json:"registered"`
	Access     *AccessDetails `json:"access,omitempty"`
}

// RefreshResponse acknowledges a cache invalidation.
type RefreshResponse struct {
	Invalidated bool `json:"invalidated"`
}
