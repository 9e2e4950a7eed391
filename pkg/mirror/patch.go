package mirror

import "time"

// Field names accepted in update clear lists. A name only has an effect on
// the entity kinds whose clear table lists it.
const (
	FieldAvatar             FieldName = "Avatar"
	FieldNickname           FieldName = "Nickname"
	FieldRoles              FieldName = "Roles"
	FieldTimeout            FieldName = "Timeout"
	FieldDisplayName        FieldName = "DisplayName"
	FieldStatusText         FieldName = "StatusText"
	FieldStatusPresence     FieldName = "StatusPresence"
	FieldProfileContent     FieldName = "ProfileContent"
	FieldProfileBackground  FieldName = "ProfileBackground"
	FieldColour             FieldName = "Colour"
	FieldIcon               FieldName = "Icon"
	FieldBanner             FieldName = "Banner"
	FieldDescription        FieldName = "Description"
	FieldDefaultPermissions FieldName = "DefaultPermissions"
	FieldCategories         FieldName = "Categories"
	FieldSystemMessages     FieldName = "SystemMessages"
	FieldPinned             FieldName = "Pinned"
)

// UserPatch is the sparse data block of a user update.
type UserPatch struct {
	Username      Optional[string]       `json:"username"`
	Discriminator Optional[string]       `json:"discriminator"`
	DisplayName   Optional[*string]      `json:"display_name"`
	Avatar        Optional[*File]        `json:"avatar"`
	Relationship  Optional[string]       `json:"relationship"`
	Badges        Optional[int64]        `json:"badges"`
	Status        Optional[*UserStatus]  `json:"status"`
	Profile       Optional[*UserProfile] `json:"profile"`
	Flags         Optional[int64]        `json:"flags"`
	Privileged    Optional[bool]         `json:"privileged"`
	Online        Optional[bool]         `json:"online"`
}

// MemberPatch is the sparse data block of a member update.
type MemberPatch struct {
	Nickname Optional[*string]    `json:"nickname"`
	Avatar   Optional[*File]      `json:"avatar"`
	RoleIDs  Optional[[]string]   `json:"roles"`
	Timeout  Optional[*time.Time] `json:"timeout"`
}

// ServerPatch is the sparse data block of a server update.
type ServerPatch struct {
	OwnerID            Optional[string]                 `json:"owner"`
	Name               Optional[string]                 `json:"name"`
	Description        Optional[*string]                `json:"description"`
	ChannelIDs         Optional[[]string]               `json:"channels"`
	RoleIDs            Optional[[]string]               `json:"-"`
	Categories         Optional[[]Category]             `json:"categories"`
	SystemMessages     Optional[*SystemMessageChannels] `json:"system_messages"`
	DefaultPermissions Optional[int64]                  `json:"default_permissions"`
	Icon               Optional[*File]                  `json:"icon"`
	Banner             Optional[*File]                  `json:"banner"`
	Flags              Optional[int64]                  `json:"flags"`
	NSFW               Optional[bool]                   `json:"nsfw"`
	Analytics          Optional[bool]                   `json:"analytics"`
	Discoverable       Optional[bool]                   `json:"discoverable"`
}

// ChannelPatch is the sparse data block of a channel update. Fields that do
// not exist on the cached channel variant are ignored by the merge.
type ChannelPatch struct {
	Name               Optional[string]                        `json:"name"`
	Description        Optional[*string]                       `json:"description"`
	Icon               Optional[*File]                         `json:"icon"`
	NSFW               Optional[bool]                          `json:"nsfw"`
	Active             Optional[bool]                          `json:"active"`
	OwnerID            Optional[string]                        `json:"owner"`
	Recipients         Optional[[]string]                      `json:"recipients"`
	Permissions        Optional[*int64]                        `json:"permissions"`
	DefaultPermissions Optional[*PermissionOverride]           `json:"default_permissions"`
	RolePermissions    Optional[map[string]PermissionOverride] `json:"role_permissions"`
	LastMessageID      Optional[*string]                       `json:"last_message_id"`
}

// RolePatch is the sparse data block of a role update.
type RolePatch struct {
	Name        Optional[string]             `json:"name"`
	Permissions Optional[PermissionOverride] `json:"permissions"`
	Colour      Optional[*string]            `json:"colour"`
	Hoist       Optional[bool]               `json:"hoist"`
	Rank        Optional[int64]              `json:"rank"`
}

// MessagePatch is the sparse data block of a message update.
type MessagePatch struct {
	Content   Optional[string]              `json:"content"`
	Edited    Optional[*time.Time]          `json:"edited"`
	Embeds    Optional[[]Embed]             `json:"embeds"`
	Reactions Optional[map[string][]string] `json:"reactions"`
	Pinned    Optional[bool]                `json:"pinned"`
}
