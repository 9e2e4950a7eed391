package router

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"ex-mirror/pkg/mirror"
)

// decoder turns a complete frame into its typed event.
type decoder func(data []byte) (mirror.Event, error)

// decoders maps wire discriminants to event decoders. A new message arrives
// under the "Message" tag; every other tag matches its event kind.
var decoders = map[string]decoder{
	"Message":               decodeAs[mirror.MessageCreateEvent],
	"MessageUpdate":         decodeAs[mirror.MessageUpdateEvent],
	"MessageAppend":         decodeAs[mirror.MessageAppendEvent],
	"MessageDelete":         decodeAs[mirror.MessageDeleteEvent],
	"BulkMessageDelete":     decodeAs[mirror.BulkMessageDeleteEvent],
	"MessageReact":          decodeAs[mirror.MessageReactEvent],
	"MessageUnreact":        decodeAs[mirror.MessageUnreactEvent],
	"MessageRemoveReaction": decodeAs[mirror.MessageRemoveReactionEvent],
	"ChannelCreate":         decodeAs[mirror.ChannelCreateEvent],
	"ChannelUpdate":         decodeAs[mirror.ChannelUpdateEvent],
	"ChannelDelete":         decodeAs[mirror.ChannelDeleteEvent],
	"ChannelGroupJoin":      decodeAs[mirror.ChannelGroupJoinEvent],
	"ChannelGroupLeave":     decodeAs[mirror.ChannelGroupLeaveEvent],
	"ChannelStartTyping":    decodeAs[mirror.ChannelStartTypingEvent],
	"ChannelStopTyping":     decodeAs[mirror.ChannelStopTypingEvent],
	"ChannelAck":            decodeAs[mirror.ChannelAckEvent],
	"ServerCreate":          decodeAs[mirror.ServerCreateEvent],
	"ServerUpdate":          decodeAs[mirror.ServerUpdateEvent],
	"ServerDelete":          decodeAs[mirror.ServerDeleteEvent],
	"ServerMemberUpdate":    decodeAs[mirror.ServerMemberUpdateEvent],
	"ServerMemberJoin":      decodeAs[mirror.ServerMemberJoinEvent],
	"ServerMemberLeave":     decodeAs[mirror.ServerMemberLeaveEvent],
	"ServerRoleUpdate":      decodeAs[mirror.ServerRoleUpdateEvent],
	"ServerRoleDelete":      decodeAs[mirror.ServerRoleDeleteEvent],
	"UserUpdate":            decodeAs[mirror.UserUpdateEvent],
	"UserRelationship":      decodeAs[mirror.UserRelationshipEvent],
	"UserPlatformWipe":      decodeAs[mirror.UserPlatformWipeEvent],
	"EmojiCreate":           decodeAs[mirror.EmojiCreateEvent],
	"EmojiDelete":           decodeAs[mirror.EmojiDeleteEvent],
}

func decodeAs[T mirror.Event](data []byte) (mirror.Event, error) {
	var event T
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}

	return event, nil
}

// classify decodes an envelope into its typed event and validates required
// identifiers. Failures are protocol errors.
func classify(validate *validator.Validate, envelope mirror.Envelope) (mirror.Event, error) {
	decode, known := decoders[envelope.Type]
	if !known {
		return nil, &mirror.ProtocolError{Type: envelope.Type, Err: mirror.ErrUnknownEvent}
	}

	event, err := decode(envelope.Data)
	if err != nil {
		return nil, &mirror.ProtocolError{
			Type: envelope.Type,
			Err:  fmt.Errorf("decode: %w: %w", mirror.ErrMalformedEvent, err),
		}
	}
	if err := validateEvent(validate, event); err != nil {
		return nil, &mirror.ProtocolError{
			Type: envelope.Type,
			Err:  fmt.Errorf("validate: %w: %w", mirror.ErrMalformedEvent, err),
		}
	}

	return event, nil
}

func validateEvent(validate *validator.Validate, event mirror.Event) error {
	if err := validate.Struct(event); err != nil {
		return err
	}

	switch typed := event.(type) {
	case mirror.ChannelCreateEvent:
		if typed.Channel == nil {
			return fmt.Errorf("missing channel")
		}
		return validate.Struct(typed.Channel)
	case mirror.ServerCreateEvent:
		for _, channel := range typed.Channels {
			if err := validate.Struct(channel); err != nil {
				return err
			}
		}
	}

	return nil
}
