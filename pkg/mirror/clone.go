package mirror

import "maps"

func clonePtr[T any](value *T) *T {
	if value == nil {
		return nil
	}
	cloned := *value

	return &cloned
}

func cloneSlice[T any](values []T) []T {
	if values == nil {
		return nil
	}

	return append([]T(nil), values...)
}

func cloneFile(file *File) *File {
	if file == nil {
		return nil
	}
	cloned := *file
	cloned.Metadata = clonePtr(file.Metadata)

	return &cloned
}

// Clone returns a deep copy.
func (u User) Clone() User {
	cloned := u
	cloned.DisplayName = clonePtr(u.DisplayName)
	cloned.Avatar = cloneFile(u.Avatar)
	if u.Status != nil {
		status := UserStatus{Text: clonePtr(u.Status.Text), Presence: clonePtr(u.Status.Presence)}
		cloned.Status = &status
	}
	if u.Profile != nil {
		profile := UserProfile{Content: clonePtr(u.Profile.Content), Background: cloneFile(u.Profile.Background)}
		cloned.Profile = &profile
	}
	cloned.Bot = clonePtr(u.Bot)

	return cloned
}

// Clone returns a deep copy.
func (m Member) Clone() Member {
	cloned := m
	cloned.Nickname = clonePtr(m.Nickname)
	cloned.Avatar = cloneFile(m.Avatar)
	cloned.RoleIDs = cloneSlice(m.RoleIDs)
	cloned.Timeout = clonePtr(m.Timeout)

	return cloned
}

// Clone returns a deep copy.
func (s Server) Clone() Server {
	cloned := s
	cloned.Description = clonePtr(s.Description)
	cloned.ChannelIDs = cloneSlice(s.ChannelIDs)
	cloned.RoleIDs = cloneSlice(s.RoleIDs)
	if s.Categories != nil {
		cloned.Categories = make([]Category, len(s.Categories))
		for idx, category := range s.Categories {
			category.Channels = cloneSlice(category.Channels)
			cloned.Categories[idx] = category
		}
	}
	cloned.SystemMessages = clonePtr(s.SystemMessages)
	cloned.Icon = cloneFile(s.Icon)
	cloned.Banner = cloneFile(s.Banner)

	return cloned
}

// Clone returns a deep copy.
func (r Role) Clone() Role {
	cloned := r
	cloned.Colour = clonePtr(r.Colour)

	return cloned
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	cloned := m
	cloned.Webhook = clonePtr(m.Webhook)
	cloned.System = clonePtr(m.System)
	cloned.Attachments = cloneSlice(m.Attachments)
	cloned.Edited = clonePtr(m.Edited)
	cloned.Embeds = cloneSlice(m.Embeds)
	cloned.Mentions = cloneSlice(m.Mentions)
	cloned.Replies = cloneSlice(m.Replies)
	if m.Reactions != nil {
		cloned.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			cloned.Reactions[emoji] = cloneSlice(users)
		}
	}
	if m.Interactions != nil {
		interactions := *m.Interactions
		interactions.Reactions = cloneSlice(m.Interactions.Reactions)
		cloned.Interactions = &interactions
	}
	cloned.Masquerade = clonePtr(m.Masquerade)

	return cloned
}

// Clone returns a copy.
func (e Emoji) Clone() Emoji {
	return e
}

// ClonePermissions copies a role permission map.
func ClonePermissions(in map[string]PermissionOverride) map[string]PermissionOverride {
	return maps.Clone(in)
}
