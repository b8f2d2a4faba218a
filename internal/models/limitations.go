package models

// AccountLimitations are the restrictions the remote service reports for the account
type AccountLimitations struct {
	Limited          bool `json:"limited"`
	CommunityBanned  bool `json:"community_banned"`
	Locked           bool `json:"locked"`
	CanInviteFriends bool `json:"can_invite_friends"`
}

// Eligibility returns an IneligibleAccountError if the account cannot run the bot
func (l AccountLimitations) Eligibility() error {
	switch {
	case l.Limited:
		return &IneligibleAccountError{Reason: "limited"}
	case l.CommunityBanned:
		return &IneligibleAccountError{Reason: "community banned"}
	case l.Locked:
		return &IneligibleAccountError{Reason: "locked"}
	}
	return nil
}
