// Package merge reconciles sparse update payloads against cached entities.
//
// Every merge runs in two phases. First each field set on the patch replaces
// the cached value, even when the sent value is empty, and unset fields keep
// the cached value. Then the clear list is applied through a per-kind rule
// table, so a clear always wins over a value sent in the same patch. Clear
// names without a rule for the kind are returned for logging.
package merge

import (
	"slices"

	"ex-mirror/pkg/mirror"
)

type clearRule[T any, E any] func(target *T, env E)

type none struct{}

var userClears = map[mirror.FieldName]clearRule[mirror.User, none]{
	mirror.FieldAvatar:      func(user *mirror.User, _ none) { user.Avatar = nil },
	mirror.FieldDisplayName: func(user *mirror.User, _ none) { user.DisplayName = nil },
	mirror.FieldStatusText: func(user *mirror.User, _ none) {
		if user.Status != nil {
			user.Status.Text = nil
		}
	},
	mirror.FieldStatusPresence: func(user *mirror.User, _ none) {
		if user.Status != nil {
			user.Status.Presence = nil
		}
	},
	mirror.FieldProfileContent: func(user *mirror.User, _ none) {
		if user.Profile != nil {
			user.Profile.Content = nil
		}
	},
	mirror.FieldProfileBackground: func(user *mirror.User, _ none) {
		if user.Profile != nil {
			user.Profile.Background = nil
		}
	},
}

// Member clears fall back to the backing user, which may be absent.
var memberClears = map[mirror.FieldName]clearRule[mirror.Member, *mirror.User]{
	mirror.FieldAvatar: func(member *mirror.Member, user *mirror.User) {
		member.Avatar = nil
		if user != nil && user.Avatar != nil {
			avatar := *user.Avatar
			member.Avatar = &avatar
		}
	},
	mirror.FieldNickname: func(member *mirror.Member, user *mirror.User) {
		member.Nickname = nil
		if user != nil {
			username := user.Username
			member.Nickname = &username
		}
	},
	mirror.FieldRoles:   func(member *mirror.Member, _ *mirror.User) { member.RoleIDs = []string{} },
	mirror.FieldTimeout: func(member *mirror.Member, _ *mirror.User) { member.Timeout = nil },
}

var serverClears = map[mirror.FieldName]clearRule[mirror.Server, none]{
	mirror.FieldIcon:           func(server *mirror.Server, _ none) { server.Icon = nil },
	mirror.FieldBanner:         func(server *mirror.Server, _ none) { server.Banner = nil },
	mirror.FieldDescription:    func(server *mirror.Server, _ none) { server.Description = nil },
	mirror.FieldCategories:     func(server *mirror.Server, _ none) { server.Categories = nil },
	mirror.FieldSystemMessages: func(server *mirror.Server, _ none) { server.SystemMessages = nil },
}

var roleClears = map[mirror.FieldName]clearRule[mirror.Role, none]{
	mirror.FieldColour: func(role *mirror.Role, _ none) {
		colour := mirror.DefaultRoleColour
		role.Colour = &colour
	},
}

var messageClears = map[mirror.FieldName]clearRule[mirror.Message, none]{
	mirror.FieldPinned: func(message *mirror.Message, _ none) { message.Pinned = false },
}

var textChannelClears = map[mirror.FieldName]clearRule[mirror.TextChannel, none]{
	mirror.FieldIcon:               func(channel *mirror.TextChannel, _ none) { channel.Icon = nil },
	mirror.FieldDescription:        func(channel *mirror.TextChannel, _ none) { channel.Description = nil },
	mirror.FieldDefaultPermissions: func(channel *mirror.TextChannel, _ none) { channel.DefaultPermissions = nil },
}

var voiceChannelClears = map[mirror.FieldName]clearRule[mirror.VoiceChannel, none]{
	mirror.FieldIcon:               func(channel *mirror.VoiceChannel, _ none) { channel.Icon = nil },
	mirror.FieldDescription:        func(channel *mirror.VoiceChannel, _ none) { channel.Description = nil },
	mirror.FieldDefaultPermissions: func(channel *mirror.VoiceChannel, _ none) { channel.DefaultPermissions = nil },
}

var groupChannelClears = map[mirror.FieldName]clearRule[mirror.GroupChannel, none]{
	mirror.FieldIcon:        func(channel *mirror.GroupChannel, _ none) { channel.Icon = nil },
	mirror.FieldDescription: func(channel *mirror.GroupChannel, _ none) { channel.Description = nil },
}

// ClearableFields returns the clear names with a rule for kind, sorted.
func ClearableFields(kind mirror.EntityKind) []mirror.FieldName {
	var names []mirror.FieldName
	switch kind {
	case mirror.EntityKindUser:
		names = fieldNames(userClears)
	case mirror.EntityKindMember:
		names = fieldNames(memberClears)
	case mirror.EntityKindServer:
		names = fieldNames(serverClears)
	case mirror.EntityKindRole:
		names = fieldNames(roleClears)
	case mirror.EntityKindMessage:
		names = fieldNames(messageClears)
	case mirror.EntityKindChannel:
		names = fieldNames(textChannelClears)
	default:
	}
	slices.Sort(names)

	return names
}

func fieldNames[T any, E any](rules map[mirror.FieldName]clearRule[T, E]) []mirror.FieldName {
	names := make([]mirror.FieldName, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}

	return names
}

// applyClears runs the rule for each cleared name and returns names with no rule.
func applyClears[T any, E any](
	target *T,
	env E,
	clear []mirror.FieldName,
	rules map[mirror.FieldName]clearRule[T, E],
) []mirror.FieldName {
	var unknown []mirror.FieldName
	for _, name := range clear {
		rule, found := rules[name]
		if !found {
			unknown = append(unknown, name)
			continue
		}
		rule(target, env)
	}

	return unknown
}

func assign[T any](dst *T, value mirror.Optional[T]) {
	if sent, ok := value.Get(); ok {
		*dst = sent
	}
}

// User merges a user update.
func User(old mirror.User, patch mirror.UserPatch, clear []mirror.FieldName) (mirror.User, []mirror.FieldName) {
	merged := old.Clone()
	assign(&merged.Username, patch.Username)
	assign(&merged.Discriminator, patch.Discriminator)
	assign(&merged.DisplayName, patch.DisplayName)
	assign(&merged.Avatar, patch.Avatar)
	assign(&merged.Relationship, patch.Relationship)
	assign(&merged.Badges, patch.Badges)
	assign(&merged.Status, patch.Status)
	assign(&merged.Profile, patch.Profile)
	assign(&merged.Flags, patch.Flags)
	assign(&merged.Privileged, patch.Privileged)
	assign(&merged.Online, patch.Online)
	merged = merged.Clone()

	unknown := applyClears(&merged, none{}, clear, userClears)

	return merged, unknown
}

// Member merges a member update. user is the backing user when cached and
// supplies the fallback values for cleared avatar and nickname.
func Member(
	old mirror.Member,
	user *mirror.User,
	patch mirror.MemberPatch,
	clear []mirror.FieldName,
) (mirror.Member, []mirror.FieldName) {
	merged := old.Clone()
	assign(&merged.Nickname, patch.Nickname)
	assign(&merged.Avatar, patch.Avatar)
	assign(&merged.RoleIDs, patch.RoleIDs)
	assign(&merged.Timeout, patch.Timeout)
	merged = merged.Clone()

	unknown := applyClears(&merged, user, clear, memberClears)

	return merged, unknown
}

// Server merges a server update.
func Server(old mirror.Server, patch mirror.ServerPatch, clear []mirror.FieldName) (mirror.Server, []mirror.FieldName) {
	merged := old.Clone()
	assign(&merged.OwnerID, patch.OwnerID)
	assign(&merged.Name, patch.Name)
	assign(&merged.Description, patch.Description)
	assign(&merged.ChannelIDs, patch.ChannelIDs)
	assign(&merged.RoleIDs, patch.RoleIDs)
	assign(&merged.Categories, patch.Categories)
	assign(&merged.SystemMessages, patch.SystemMessages)
	assign(&merged.DefaultPermissions, patch.DefaultPermissions)
	assign(&merged.Icon, patch.Icon)
	assign(&merged.Banner, patch.Banner)
	assign(&merged.Flags, patch.Flags)
	assign(&merged.NSFW, patch.NSFW)
	assign(&merged.Analytics, patch.Analytics)
	assign(&merged.Discoverable, patch.Discoverable)
	merged = merged.Clone()

	unknown := applyClears(&merged, none{}, clear, serverClears)

	return merged, unknown
}

// Role merges a role update. Merging onto a zero Role carrying only its
// keys builds a new role.
func Role(old mirror.Role, patch mirror.RolePatch, clear []mirror.FieldName) (mirror.Role, []mirror.FieldName) {
	merged := old.Clone()
	assign(&merged.Name, patch.Name)
	assign(&merged.Permissions, patch.Permissions)
	assign(&merged.Colour, patch.Colour)
	assign(&merged.Hoist, patch.Hoist)
	assign(&merged.Rank, patch.Rank)
	merged = merged.Clone()

	unknown := applyClears(&merged, none{}, clear, roleClears)

	return merged, unknown
}

// Message merges a message update.
func Message(old mirror.Message, patch mirror.MessagePatch, clear []mirror.FieldName) (mirror.Message, []mirror.FieldName) {
	merged := old.Clone()
	assign(&merged.Content, patch.Content)
	assign(&merged.Edited, patch.Edited)
	assign(&merged.Embeds, patch.Embeds)
	assign(&merged.Reactions, patch.Reactions)
	assign(&merged.Pinned, patch.Pinned)
	merged = merged.Clone()

	unknown := applyClears(&merged, none{}, clear, messageClears)

	return merged, unknown
}

// Channel merges a channel update onto whichever variant is cached. Patch
// fields the variant does not carry are ignored.
func Channel(old mirror.Channel, patch mirror.ChannelPatch, clear []mirror.FieldName) (mirror.Channel, []mirror.FieldName) {
	switch channel := mirror.CloneChannel(old).(type) {
	case *mirror.TextChannel:
		assign(&channel.Name, patch.Name)
		assign(&channel.Description, patch.Description)
		assign(&channel.Icon, patch.Icon)
		assign(&channel.NSFW, patch.NSFW)
		assign(&channel.DefaultPermissions, patch.DefaultPermissions)
		assign(&channel.RolePermissions, patch.RolePermissions)
		assign(&channel.LastMessageID, patch.LastMessageID)
		merged := mirror.CloneChannel(channel).(*mirror.TextChannel)
		return merged, applyClears(merged, none{}, clear, textChannelClears)
	case *mirror.VoiceChannel:
		assign(&channel.Name, patch.Name)
		assign(&channel.Description, patch.Description)
		assign(&channel.Icon, patch.Icon)
		assign(&channel.NSFW, patch.NSFW)
		assign(&channel.DefaultPermissions, patch.DefaultPermissions)
		assign(&channel.RolePermissions, patch.RolePermissions)
		merged := mirror.CloneChannel(channel).(*mirror.VoiceChannel)
		return merged, applyClears(merged, none{}, clear, voiceChannelClears)
	case *mirror.GroupChannel:
		assign(&channel.Name, patch.Name)
		assign(&channel.Description, patch.Description)
		assign(&channel.Icon, patch.Icon)
		assign(&channel.NSFW, patch.NSFW)
		assign(&channel.OwnerID, patch.OwnerID)
		assign(&channel.Recipients, patch.Recipients)
		assign(&channel.Permissions, patch.Permissions)
		assign(&channel.LastMessageID, patch.LastMessageID)
		merged := mirror.CloneChannel(channel).(*mirror.GroupChannel)
		return merged, applyClears(merged, none{}, clear, groupChannelClears)
	case *mirror.DMChannel:
		assign(&channel.Active, patch.Active)
		assign(&channel.Recipients, patch.Recipients)
		assign(&channel.LastMessageID, patch.LastMessageID)
		return mirror.CloneChannel(channel), slices.Clone(clear)
	case *mirror.SavedMessagesChannel:
		return channel, slices.Clone(clear)
	default:
		return old, nil
	}
}
