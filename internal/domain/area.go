package domain

import (
	"time"

	"gorm.io/datatypes"
)

// UserService holds the credentials of a user's connected account on a
// service. The engine only reads it, except for the credential refresher
// which rotates the tokens.
//
// Fields:
//   - AccessToken / RefreshToken: opaque OAuth tokens; never serialized.
//   - TokenExpiresAt: nil means the token does not expire.
type UserService struct {
	ID             string     `json:"id"               gorm:"type:char(36);primaryKey"`
	UserID         string     `json:"user_id"          gorm:"type:varchar(64);not null;index"`
	ServiceID      string     `json:"service_id"       gorm:"type:char(36);not null;index"`
	AccessToken    string     `json:"-"                gorm:"type:text"`
	RefreshToken   string     `json:"-"                gorm:"type:text"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	Service Service `json:"-" gorm:"foreignKey:ServiceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for UserService.
func (UserService) TableName() string { return "user_services" }

// Usable reports whether the access token is present and not expired at now.
func (u UserService) Usable(now time.Time) bool {
	if u.AccessToken == "" {
		return false
	}
	return u.TokenExpiresAt == nil || u.TokenExpiresAt.After(now)
}

// Area is a user-defined automation: one action, zero or more reactions.
// A disabled Area is never polled and its queued work is skipped.
type Area struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID      string    `json:"user_id"     gorm:"type:varchar(64);not null;index:idx_user_areas"`
	Name        string    `json:"name"        gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
	Enabled     bool      `json:"enabled"     gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Area.
func (Area) TableName() string { return "areas" }

// AreaAction binds an Area to the single catalog action that triggers it.
type AreaAction struct {
	ID              string    `json:"id"                gorm:"type:char(36);primaryKey"`
	AreaID          string    `json:"area_id"           gorm:"type:char(36);not null;uniqueIndex"`
	ServiceActionID string    `json:"service_action_id" gorm:"type:char(36);not null;index"`
	UserServiceID   string    `json:"user_service_id"   gorm:"type:char(36);index"`
	Enabled         bool      `json:"enabled"           gorm:"not null"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Area          Area                   `json:"-" gorm:"foreignKey:AreaID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	ServiceAction ServiceAction          `json:"-" gorm:"foreignKey:ServiceActionID;references:ID"`
	ParamValues   []AreaActionParamValue `json:"param_values,omitempty" gorm:"foreignKey:AreaActionID;constraint:OnDelete:CASCADE"`
}

// TableName returns the database table name for AreaAction.
func (AreaAction) TableName() string { return "area_actions" }

// AreaActionParamValue is the user's value for one action parameter.
// ValueJSON wins over ValueText when both are set.
type AreaActionParamValue struct {
	ID                   string         `json:"id"                      gorm:"type:char(36);primaryKey"`
	AreaActionID         string         `json:"area_action_id"          gorm:"type:char(36);not null;index"`
	ServiceActionParamID string         `json:"service_action_param_id" gorm:"type:char(36);not null"`
	ValueText            *string        `json:"value_text,omitempty"    gorm:"type:text"`
	ValueJSON            datatypes.JSON `json:"value_json,omitempty"`

	Param ServiceActionParam `json:"-" gorm:"foreignKey:ServiceActionParamID;references:ID"`
}

// TableName returns the database table name for AreaActionParamValue.
func (AreaActionParamValue) TableName() string { return "area_action_param_values" }

// AreaReaction is one reaction of an Area. Reactions run in ascending
// Position, ties broken by CreatedAt.
type AreaReaction struct {
	ID                string    `json:"id"                  gorm:"type:char(36);primaryKey"`
	AreaID            string    `json:"area_id"             gorm:"type:char(36);not null;index:idx_area_reactions,priority:1"`
	ServiceReactionID string    `json:"service_reaction_id" gorm:"type:char(36);not null"`
	UserServiceID     string    `json:"user_service_id"     gorm:"type:char(36);index"`
	Position          int       `json:"position"            gorm:"not null;default:0;index:idx_area_reactions,priority:2"`
	Enabled           bool      `json:"enabled"             gorm:"not null"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	Area            Area                     `json:"-" gorm:"foreignKey:AreaID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	ServiceReaction ServiceReaction          `json:"-" gorm:"foreignKey:ServiceReactionID;references:ID"`
	ParamValues     []AreaReactionParamValue `json:"param_values,omitempty" gorm:"foreignKey:AreaReactionID;constraint:OnDelete:CASCADE"`
}

// TableName returns the database table name for AreaReaction.
func (AreaReaction) TableName() string { return "area_reactions" }

// AreaReactionParamValue is the user's value (literal or template) for one
// reaction parameter.
type AreaReactionParamValue struct {
	ID                     string         `json:"id"                        gorm:"type:char(36);primaryKey"`
	AreaReactionID         string         `json:"area_reaction_id"          gorm:"type:char(36);not null;index"`
	ServiceReactionParamID string         `json:"service_reaction_param_id" gorm:"type:char(36);not null"`
	ValueText              *string        `json:"value_text,omitempty"      gorm:"type:text"`
	ValueJSON              datatypes.JSON `json:"value_json,omitempty"`

	Param ServiceReactionParam `json:"-" gorm:"foreignKey:ServiceReactionParamID;references:ID"`
}

// TableName returns the database table name for AreaReactionParamValue.
func (AreaReactionParamValue) TableName() string { return "area_reaction_param_values" }
