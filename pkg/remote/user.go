package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/dropclaim/pkg/claim"
	"github.com/MarkoPoloResearchLab/dropclaim/pkg/gateway"
)

// Profile is the signed-in user's profile.
type Profile struct {
	UserID            string      `json:"user_id"`
	Nickname          string      `json:"nickname,omitempty"`
	AvatarURL         string      `json:"avatar_url,omitempty"`
	Phone             string      `json:"phone,omitempty"`
	IsVerified        bool        `json:"is_verified"`
	Balance           claim.Cents `json:"balance"`
	Points            int64       `json:"points"`
	TotalWeightKg     float64     `json:"total_weight"`
	TotalCarbonReduct float64     `json:"total_carbon"`
	TotalCount        int64       `json:"total_count"`
}

// ProfileUpdate carries editable profile fields. Empty fields are left unchanged.
type ProfileUpdate struct {
	Nickname  string
	AvatarURL string
}

// Profile fetches the signed-in user's profile.
func (api *API) Profile(ctx context.Context) (Profile, error) {
	var profile Profile
	err := api.call(ctx, gateway.Request{Path: PathProfile, Method: gateway.MethodGet}, &profile)
	return profile, err
}

// UpdateProfile changes editable profile fields and returns the stored profile.
func (api *API) UpdateProfile(ctx context.Context, update ProfileUpdate) (Profile, error) {
	payload := map[string]any{}
	if nickname := strings.TrimSpace(update.Nickname); nickname != "" {
		payload["nickname"] = nickname
	}
	if avatarURL := strings.TrimSpace(update.AvatarURL); avatarURL != "" {
		payload["avatar_url"] = avatarURL
	}
	if len(payload) == 0 {
		return Profile{}, fmt.Errorf("%w: nothing to update", ErrInvalidArgument)
	}
	var profile Profile
	err := api.call(ctx, gateway.Request{Path: PathProfile, Method: gateway.MethodPut, Payload: payload}, &profile)
	return profile, err
}

// VerifyIdentity submits the real-name verification unlocking claims.
func (api *API) VerifyIdentity(ctx context.Context, realName string, idCard string) error {
	realName = strings.TrimSpace(realName)
	idCard = strings.TrimSpace(idCard)
	if realName == "" || idCard == "" {
		return fmt.Errorf("%w: real name and id card are required", ErrInvalidArgument)
	}
	return api.call(ctx, gateway.Request{
		Path:    PathVerifyIdentity,
		Method:  gateway.MethodPost,
		Payload: map[string]any{"real_name": realName, "id_card": idCard},
	}, nil)
}
