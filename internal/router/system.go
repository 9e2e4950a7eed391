package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ex-mirror/internal/merge"
	"ex-mirror/internal/store"
	"ex-mirror/pkg/mirror"
)

// maintainer applies one event's cache maintenance. It runs on a system lane
// before any user handler sees the event.
type maintainer struct {
	store        *store.Store
	fetcher      mirror.Fetcher
	fetchTimeout time.Duration
	logger       *slog.Logger
	clock        func() time.Time
}

// apply mutates the store for event. Updates and deletes that target an
// uncached entity leave the store untouched and are logged at debug level.
func (m *maintainer) apply(ctx context.Context, event mirror.Event) error {
	if create, ok := event.(mirror.ServerCreateEvent); ok {
		for _, skipped := range create.Skipped {
			m.logger.WarnContext(ctx, "server channel skipped", "server_id", create.Server.ID, "error", skipped)
		}
	}

	var absent []*mirror.MergeInconsistencyError
	var unknown []mirror.FieldName
	missing := func(kind mirror.EntityKind, key string) {
		absent = append(absent, &mirror.MergeInconsistencyError{Kind: kind, Key: key, Event: event.Kind()})
	}

	err := m.store.Update(func(tx *store.Tx) error {
		switch typed := event.(type) {
		case mirror.AuthenticatedEvent, mirror.ClientReadyEvent:
		case mirror.MessageCreateEvent:
			applyMessageCreate(tx, typed)
		case mirror.MessageUpdateEvent:
			key := mirror.MessageKey{ChannelID: typed.ChannelID, MessageID: typed.ID}
			old, found := tx.Messages.Get(key)
			if !found {
				missing(mirror.EntityKindMessage, typed.ID)
				return nil
			}
			merged, rest := merge.Message(old, typed.Data, typed.Clear)
			unknown = rest
			tx.Messages.Replace(key, merged)
		case mirror.MessageAppendEvent:
			updateMessage(tx, typed.ChannelID, typed.ID, missing, func(old mirror.Message) mirror.Message {
				return merge.AppendEmbeds(old, typed.Append.Embeds)
			})
		case mirror.MessageDeleteEvent:
			key := mirror.MessageKey{ChannelID: typed.ChannelID, MessageID: typed.ID}
			if _, found := tx.Messages.Delete(key); !found {
				missing(mirror.EntityKindMessage, typed.ID)
			}
		case mirror.BulkMessageDeleteEvent:
			for _, messageID := range typed.IDs {
				key := mirror.MessageKey{ChannelID: typed.ChannelID, MessageID: messageID}
				if _, found := tx.Messages.Delete(key); !found {
					missing(mirror.EntityKindMessage, messageID)
				}
			}
		case mirror.MessageReactEvent:
			updateMessage(tx, typed.ChannelID, typed.ID, missing, func(old mirror.Message) mirror.Message {
				return merge.AddReaction(old, typed.EmojiID, typed.UserID)
			})
		case mirror.MessageUnreactEvent:
			updateMessage(tx, typed.ChannelID, typed.ID, missing, func(old mirror.Message) mirror.Message {
				return merge.RemoveReaction(old, typed.EmojiID, typed.UserID)
			})
		case mirror.MessageRemoveReactionEvent:
			updateMessage(tx, typed.ChannelID, typed.ID, missing, func(old mirror.Message) mirror.Message {
				return merge.ClearReaction(old, typed.EmojiID)
			})
		case mirror.ChannelCreateEvent:
			applyChannelCreate(tx, typed.Channel)
		case mirror.ChannelUpdateEvent:
			old, found := tx.Channels.Get(typed.ID)
			if !found {
				missing(mirror.EntityKindChannel, typed.ID)
				return nil
			}
			merged, rest := merge.Channel(old, typed.Data, typed.Clear)
			unknown = rest
			tx.Channels.Replace(typed.ID, merged)
		case mirror.ChannelDeleteEvent:
			if removed, _ := tx.RemoveChannel(typed.ID); !removed {
				missing(mirror.EntityKindChannel, typed.ID)
			}
		case mirror.ChannelGroupJoinEvent:
			updateChannel(tx, typed.ID, missing, func(old mirror.Channel) mirror.Channel {
				return merge.AddRecipient(old, typed.UserID)
			})
		case mirror.ChannelGroupLeaveEvent:
			if typed.UserID == tx.SelfID() {
				if removed, _ := tx.RemoveChannel(typed.ID); !removed {
					missing(mirror.EntityKindChannel, typed.ID)
				}
				return nil
			}
			updateChannel(tx, typed.ID, missing, func(old mirror.Channel) mirror.Channel {
				return merge.RemoveRecipient(old, typed.UserID)
			})
		case mirror.ChannelStartTypingEvent, mirror.ChannelStopTypingEvent, mirror.ChannelAckEvent:
		case mirror.ServerCreateEvent:
			applyServerCreate(tx, typed)
		case mirror.ServerUpdateEvent:
			old, found := tx.Servers.Get(typed.ID)
			if !found {
				missing(mirror.EntityKindServer, typed.ID)
				return nil
			}
			merged, rest := merge.Server(old, typed.Data, typed.Clear)
			unknown = rest
			tx.Servers.Replace(typed.ID, merged)
		case mirror.ServerDeleteEvent:
			if report := tx.RemoveServer(typed.ID); !report.Server {
				missing(mirror.EntityKindServer, typed.ID)
			} else {
				m.logger.DebugContext(ctx, "server removed",
					"server_id", typed.ID,
					"members", report.Members,
					"users", report.Users,
					"channels", report.Channels,
					"roles", report.Roles,
					"messages", report.Messages,
					"emojis", report.Emojis,
				)
			}
		case mirror.ServerMemberUpdateEvent:
			old, found := tx.Members.Get(typed.ID)
			if !found {
				missing(mirror.EntityKindMember, typed.ID.ServerID+"/"+typed.ID.UserID)
				return nil
			}
			var backing *mirror.User
			if user, ok := tx.Users.Get(typed.ID.UserID); ok {
				backing = &user
			}
			merged, rest := merge.Member(old, backing, typed.Data, typed.Clear)
			unknown = rest
			tx.Members.Replace(typed.ID, merged)
		case mirror.ServerMemberJoinEvent:
			key := mirror.MemberKey{ServerID: typed.ServerID, UserID: typed.UserID}
			if _, found := tx.Members.Get(key); !found {
				tx.Members.Set(key, mirror.Member{ID: key, JoinedAt: m.clock()})
			}
		case mirror.ServerMemberLeaveEvent:
			if typed.UserID == tx.SelfID() {
				if report := tx.RemoveServer(typed.ServerID); !report.Server {
					missing(mirror.EntityKindServer, typed.ServerID)
				}
				return nil
			}
			if removed, _ := tx.RemoveMember(typed.ServerID, typed.UserID); !removed {
				missing(mirror.EntityKindMember, typed.ServerID+"/"+typed.UserID)
			}
		case mirror.ServerRoleUpdateEvent:
			unknown = applyRoleUpdate(tx, typed)
		case mirror.ServerRoleDeleteEvent:
			if !tx.RemoveRole(typed.ServerID, typed.RoleID) {
				missing(mirror.EntityKindRole, typed.ServerID+"/"+typed.RoleID)
			}
		case mirror.UserUpdateEvent:
			old, found := tx.Users.Get(typed.ID)
			if !found {
				missing(mirror.EntityKindUser, typed.ID)
				return nil
			}
			merged, rest := merge.User(old, typed.Data, typed.Clear)
			unknown = rest
			tx.Users.Replace(typed.ID, merged)
		case mirror.UserRelationshipEvent:
			user := typed.User
			user.Relationship = typed.Status
			tx.Users.Replace(user.ID, user)
		case mirror.UserPlatformWipeEvent:
			if members, removedUser := tx.WipeUser(typed.UserID); members == 0 && !removedUser {
				missing(mirror.EntityKindUser, typed.UserID)
			}
		case mirror.EmojiCreateEvent:
			tx.Emojis.Set(typed.Emoji.ID, typed.Emoji)
		case mirror.EmojiDeleteEvent:
			if _, found := tx.Emojis.Delete(typed.ID); !found {
				missing(mirror.EntityKindEmoji, typed.ID)
			}
		default:
			return fmt.Errorf("no cache maintenance for %s", event.Kind())
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("apply %s: %w", event.Kind(), err)
	}

	for _, inconsistency := range absent {
		m.logger.DebugContext(ctx, "merge inconsistency", "error", inconsistency)
	}
	if len(unknown) > 0 {
		m.logger.DebugContext(ctx, "ignored unknown clear fields", "event", event.Kind(), "fields", unknown)
	}

	return nil
}

func applyMessageCreate(tx *store.Tx, event mirror.MessageCreateEvent) {
	message := event.Message
	tx.Messages.Set(message.Key(), message)

	if channel, found := tx.Channels.Get(message.ChannelID); found {
		tx.Channels.Set(message.ChannelID, merge.SetLastMessage(channel, message.ID))
	}
}

func applyChannelCreate(tx *store.Tx, channel mirror.Channel) {
	tx.Channels.Set(channel.ChannelID(), channel)

	serverID := channel.OwningServer()
	if serverID == "" {
		return
	}
	if server, found := tx.Servers.Get(serverID); found {
		tx.Servers.Set(serverID, merge.ServerWithChannel(server, channel.ChannelID()))
	}
}

func applyServerCreate(tx *store.Tx, event mirror.ServerCreateEvent) {
	tx.Servers.Set(event.Server.ID, event.Server)
	for _, role := range event.Roles {
		tx.Roles.Set(role.Key(), role)
	}
	for _, channel := range event.Channels {
		tx.Channels.Set(channel.ChannelID(), channel)
	}
	for _, emoji := range event.Emojis {
		tx.Emojis.Set(emoji.ID, emoji)
	}
}

// applyRoleUpdate merges onto the cached role or creates it, then reorders
// the server's role list.
func applyRoleUpdate(tx *store.Tx, event mirror.ServerRoleUpdateEvent) []mirror.FieldName {
	key := mirror.RoleKey{ServerID: event.ServerID, RoleID: event.RoleID}

	var (
		role    mirror.Role
		unknown []mirror.FieldName
	)
	if old, found := tx.Roles.Get(key); found {
		role, unknown = merge.Role(old, event.Data, event.Clear)
		tx.Roles.Replace(key, role)
	} else {
		role, unknown = merge.NewRole(event.ServerID, event.RoleID, event.Data, event.Clear)
		tx.Roles.Set(key, role)
	}

	if server, found := tx.Servers.Get(event.ServerID); found {
		roles := tx.Roles.List(func(candidate mirror.Role) bool { return candidate.ServerID == event.ServerID })
		tx.Servers.Set(event.ServerID, merge.ServerWithRoles(server, roles))
	}

	return unknown
}

func updateMessage(
	tx *store.Tx,
	channelID string,
	messageID string,
	missing func(mirror.EntityKind, string),
	edit func(mirror.Message) mirror.Message,
) {
	key := mirror.MessageKey{ChannelID: channelID, MessageID: messageID}
	old, found := tx.Messages.Get(key)
	if !found {
		missing(mirror.EntityKindMessage, messageID)
		return
	}
	tx.Messages.Replace(key, edit(old))
}

func updateChannel(
	tx *store.Tx,
	channelID string,
	missing func(mirror.EntityKind, string),
	edit func(mirror.Channel) mirror.Channel,
) {
	old, found := tx.Channels.Get(channelID)
	if !found {
		missing(mirror.EntityKindChannel, channelID)
		return
	}
	tx.Channels.Replace(channelID, edit(old))
}

// memberJoin is the REST-resolved state of a joining member.
type memberJoin struct {
	member mirror.Member
	user   *mirror.User
}

// resolveJoin fetches the joining member and its user. It returns nil when
// the member lookup failed; a failed user lookup keeps the member.
func (m *maintainer) resolveJoin(ctx context.Context, event mirror.ServerMemberJoinEvent) (*memberJoin, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	member, err := m.fetcher.FetchMember(fetchCtx, event.ServerID, event.UserID)
	if err != nil {
		return nil, fmt.Errorf("fetch member: %w", err)
	}
	member.ID = mirror.MemberKey{ServerID: event.ServerID, UserID: event.UserID}
	resolved := &memberJoin{member: member}

	user, err := m.fetcher.FetchUser(fetchCtx, event.UserID)
	if err != nil {
		return resolved, fmt.Errorf("fetch user: %w", err)
	}
	resolved.user = &user

	return resolved, nil
}

// mergeJoin writes a resolved join over the bare membership. It does nothing
// when the membership is gone, so a leave routed meanwhile is not undone.
// Users already cached are kept since the gateway keeps them current.
func (m *maintainer) mergeJoin(ctx context.Context, resolved *memberJoin) error {
	merged := false
	err := m.store.Update(func(tx *store.Tx) error {
		cached, found := tx.Members.Get(resolved.member.ID)
		if !found {
			return nil
		}
		member := resolved.member
		if member.JoinedAt.IsZero() {
			member.JoinedAt = cached.JoinedAt
		}
		tx.Members.Replace(member.ID, member)
		if resolved.user != nil {
			if _, cachedUser := tx.Users.Get(resolved.user.ID); !cachedUser {
				tx.Users.Set(resolved.user.ID, *resolved.user)
			}
		}
		merged = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge member join: %w", err)
	}
	if !merged {
		m.logger.DebugContext(ctx, "member left before lookup finished",
			"server_id", resolved.member.ID.ServerID,
			"user_id", resolved.member.ID.UserID,
		)
	}

	return nil
}
