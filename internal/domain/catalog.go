// Package domain defines the persistence models of the automation engine:
// the service catalog, user-owned areas with their action and reactions,
// hook jobs and the logs they produce, and the durable queue table.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Service is a third-party integration known to the platform (e.g. "discord").
// Name is the stable identifier used as the first half of a capability key.
type Service struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Name        string    `json:"name"         gorm:"type:varchar(64);not null;uniqueIndex"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(128)"`
	Description string    `json:"description"  gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Service.
func (Service) TableName() string { return "services" }

// ServiceAction is a trigger a service exposes. PollingSupported and
// WebhookSupported tell which HookJob types may be attached to it.
type ServiceAction struct {
	ID               string    `json:"id"                gorm:"type:char(36);primaryKey"`
	ServiceID        string    `json:"service_id"        gorm:"type:char(36);not null;uniqueIndex:ux_service_action,priority:1"`
	Name             string    `json:"name"              gorm:"type:varchar(64);not null;uniqueIndex:ux_service_action,priority:2"`
	Description      string    `json:"description"       gorm:"type:text"`
	PollingSupported bool      `json:"polling_supported" gorm:"not null;default:false"`
	WebhookSupported bool      `json:"webhook_supported" gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	Service Service              `json:"-" gorm:"foreignKey:ServiceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Params  []ServiceActionParam `json:"params,omitempty" gorm:"foreignKey:ServiceActionID"`
}

// TableName returns the database table name for ServiceAction.
func (ServiceAction) TableName() string { return "service_actions" }

// ServiceActionParam declares one input of an action.
type ServiceActionParam struct {
	ID              string         `json:"id"                gorm:"type:char(36);primaryKey"`
	ServiceActionID string         `json:"service_action_id" gorm:"type:char(36);not null;uniqueIndex:ux_action_param,priority:1"`
	Name            string         `json:"name"              gorm:"type:varchar(64);not null;uniqueIndex:ux_action_param,priority:2"`
	DataType        string         `json:"data_type"         gorm:"type:varchar(16);not null;default:'string'"`
	Required        bool           `json:"required"          gorm:"not null;default:false"`
	Position        int            `json:"position"          gorm:"not null;default:0"`
	DefaultValue    datatypes.JSON `json:"default_value,omitempty"`
}

// TableName returns the database table name for ServiceActionParam.
func (ServiceActionParam) TableName() string { return "service_action_params" }

// ServiceReaction is an operation a service can perform.
type ServiceReaction struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	ServiceID   string    `json:"service_id"  gorm:"type:char(36);not null;uniqueIndex:ux_service_reaction,priority:1"`
	Name        string    `json:"name"        gorm:"type:varchar(64);not null;uniqueIndex:ux_service_reaction,priority:2"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Service Service                `json:"-" gorm:"foreignKey:ServiceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Params  []ServiceReactionParam `json:"params,omitempty" gorm:"foreignKey:ServiceReactionID"`
}

// TableName returns the database table name for ServiceReaction.
func (ServiceReaction) TableName() string { return "service_reactions" }

// ServiceReactionParam declares one input of a reaction.
type ServiceReactionParam struct {
	ID                string         `json:"id"                  gorm:"type:char(36);primaryKey"`
	ServiceReactionID string         `json:"service_reaction_id" gorm:"type:char(36);not null;uniqueIndex:ux_reaction_param,priority:1"`
	Name              string         `json:"name"                gorm:"type:varchar(64);not null;uniqueIndex:ux_reaction_param,priority:2"`
	DataType          string         `json:"data_type"           gorm:"type:varchar(16);not null;default:'string'"`
	Required          bool           `json:"required"            gorm:"not null;default:false"`
	Position          int            `json:"position"            gorm:"not null;default:0"`
	DefaultValue      datatypes.JSON `json:"default_value,omitempty"`
}

// TableName returns the database table name for ServiceReactionParam.
func (ServiceReactionParam) TableName() string { return "service_reaction_params" }

// CapabilityKey joins a service name and an action or reaction name into the
// registry key ("service.name").
func CapabilityKey(service, name string) string { return service + "." + name }
