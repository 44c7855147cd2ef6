package sandwich

import (
	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
)

// DispatchDecoder turns the data of a dispatch into its structure.
type DispatchDecoder func(msg *discord.GatewayPayload) (any, error)

var dispatchDecoders = make(map[string]DispatchDecoder)

// RegisterDispatchDecoder sets the decoder for an event type. Event types
// without a decoder are passed on as discord.RawEvent.
func RegisterDispatchDecoder(eventType string, decoder DispatchDecoder) {
	dispatchDecoders[eventType] = decoder
}

func decodeInto[T any](msg *discord.GatewayPayload) (any, error) {
	var out T

	if err := unmarshalPayload(msg, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func decodeDispatch(msg *discord.GatewayPayload) (any, error) {
	decoder, ok := dispatchDecoders[msg.Type]
	if !ok {
		return discord.RawEvent(msg.Data), nil
	}

	return decoder(msg)
}

func init() {
	RegisterDispatchDecoder(discord.EventReady, decodeInto[discord.Ready])
	RegisterDispatchDecoder(discord.EventResumed, decodeInto[discord.Resumed])
	RegisterDispatchDecoder(discord.EventGuildCreate, decodeInto[discord.Guild])
	RegisterDispatchDecoder(discord.EventGuildDelete, decodeInto[discord.GuildDelete])
	RegisterDispatchDecoder(discord.EventGuildMembersChunk, decodeInto[discord.GuildMembersChunk])
	RegisterDispatchDecoder(discord.EventGuildMemberAdd, decodeInto[discord.GuildMemberAdd])
	RegisterDispatchDecoder(discord.EventGuildMemberRemove, decodeInto[discord.GuildMemberRemove])
	RegisterDispatchDecoder(discord.EventMessageCreate, decodeInto[discord.MessageCreate])
}
