package merge

import (
	"slices"

	"ex-mirror/pkg/mirror"
)

// Edits that events express as operations rather than data blocks. Each one
// builds the equivalent patch so every mutation still goes through a merge.

// AddReaction records userID reacting with emojiID.
func AddReaction(old mirror.Message, emojiID, userID string) mirror.Message {
	reactions := cloneReactions(old.Reactions)
	if !slices.Contains(reactions[emojiID], userID) {
		reactions[emojiID] = append(reactions[emojiID], userID)
	}
	merged, _ := Message(old, mirror.MessagePatch{Reactions: mirror.Some(reactions)}, nil)

	return merged
}

// RemoveReaction drops userID's reaction with emojiID.
func RemoveReaction(old mirror.Message, emojiID, userID string) mirror.Message {
	reactions := cloneReactions(old.Reactions)
	users := slices.DeleteFunc(reactions[emojiID], func(id string) bool { return id == userID })
	if len(users) == 0 {
		delete(reactions, emojiID)
	} else {
		reactions[emojiID] = users
	}
	merged, _ := Message(old, mirror.MessagePatch{Reactions: mirror.Some(reactions)}, nil)

	return merged
}

// ClearReaction drops every reaction with emojiID.
func ClearReaction(old mirror.Message, emojiID string) mirror.Message {
	reactions := cloneReactions(old.Reactions)
	delete(reactions, emojiID)
	merged, _ := Message(old, mirror.MessagePatch{Reactions: mirror.Some(reactions)}, nil)

	return merged
}

// AppendEmbeds adds embeds after the cached ones.
func AppendEmbeds(old mirror.Message, embeds []mirror.Embed) mirror.Message {
	combined := append(slices.Clone(old.Embeds), embeds...)
	merged, _ := Message(old, mirror.MessagePatch{Embeds: mirror.Some(combined)}, nil)

	return merged
}

func cloneReactions(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for emoji, users := range in {
		out[emoji] = slices.Clone(users)
	}

	return out
}

// AddRecipient adds userID to a group or direct channel.
func AddRecipient(old mirror.Channel, userID string) mirror.Channel {
	recipients := recipientsOf(old)
	if slices.Contains(recipients, userID) {
		return mirror.CloneChannel(old)
	}
	merged, _ := Channel(old, mirror.ChannelPatch{Recipients: mirror.Some(append(recipients, userID))}, nil)

	return merged
}

// RemoveRecipient removes userID from a group or direct channel.
func RemoveRecipient(old mirror.Channel, userID string) mirror.Channel {
	recipients := slices.DeleteFunc(recipientsOf(old), func(id string) bool { return id == userID })
	merged, _ := Channel(old, mirror.ChannelPatch{Recipients: mirror.Some(recipients)}, nil)

	return merged
}

// SetLastMessage moves a channel's last message pointer.
func SetLastMessage(old mirror.Channel, messageID string) mirror.Channel {
	merged, _ := Channel(old, mirror.ChannelPatch{LastMessageID: mirror.Some(&messageID)}, nil)

	return merged
}

func recipientsOf(channel mirror.Channel) []string {
	switch typed := channel.(type) {
	case *mirror.GroupChannel:
		return slices.Clone(typed.Recipients)
	case *mirror.DMChannel:
		return slices.Clone(typed.Recipients)
	default:
		return nil
	}
}

// ServerWithChannel lists channelID on the server.
func ServerWithChannel(old mirror.Server, channelID string) mirror.Server {
	if slices.Contains(old.ChannelIDs, channelID) {
		return old.Clone()
	}
	merged, _ := Server(old, mirror.ServerPatch{
		ChannelIDs: mirror.Some(append(slices.Clone(old.ChannelIDs), channelID)),
	}, nil)

	return merged
}

// ServerWithoutChannel unlists channelID from the server and its categories.
func ServerWithoutChannel(old mirror.Server, channelID string) mirror.Server {
	patch := mirror.ServerPatch{
		ChannelIDs: mirror.Some(without(old.ChannelIDs, channelID)),
	}
	if old.Categories != nil {
		categories := make([]mirror.Category, len(old.Categories))
		for idx, category := range old.Categories {
			category.Channels = without(category.Channels, channelID)
			categories[idx] = category
		}
		patch.Categories = mirror.Some(categories)
	}
	merged, _ := Server(old, patch, nil)

	return merged
}

// ServerWithRoles replaces the server's role list with roles in rank order.
func ServerWithRoles(old mirror.Server, roles []mirror.Role) mirror.Server {
	ordered := slices.Clone(roles)
	mirror.SortRoles(ordered)
	ids := make([]string, 0, len(ordered))
	for _, role := range ordered {
		ids = append(ids, role.ID)
	}
	merged, _ := Server(old, mirror.ServerPatch{RoleIDs: mirror.Some(ids)}, nil)

	return merged
}

// MemberWithoutRole drops roleID from a member.
func MemberWithoutRole(old mirror.Member, roleID string) mirror.Member {
	merged, _ := Member(old, nil, mirror.MemberPatch{RoleIDs: mirror.Some(without(old.RoleIDs, roleID))}, nil)

	return merged
}

// NewRole builds a role that was first seen through an update.
func NewRole(serverID, roleID string, patch mirror.RolePatch, clear []mirror.FieldName) (mirror.Role, []mirror.FieldName) {
	return Role(mirror.Role{ID: roleID, ServerID: serverID}, patch, clear)
}

func without(ids []string, id string) []string {
	return slices.DeleteFunc(slices.Clone(ids), func(candidate string) bool { return candidate == id })
}
