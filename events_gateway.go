package sandwich

import (
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/discord"
)

// GatewayHandler handles a single opcode. Handlers run with the shard's lock
// held.
type GatewayHandler func(shard *Shard, msg *discord.GatewayPayload) error

var gatewayHandlers = make(map[discord.GatewayOp]GatewayHandler)

func registerGatewayHandler(op discord.GatewayOp, handler GatewayHandler) {
	gatewayHandlers[op] = handler
}

func gatewayOpDispatch(shard *Shard, msg *discord.GatewayPayload) error {
	return shard.onDispatchLocked(msg)
}

func gatewayOpHeartbeat(shard *Shard, _ *discord.GatewayPayload) error {
	shard.sendHeartbeatLocked("HeartbeatRequest", true)

	return nil
}

func gatewayOpReconnect(shard *Shard, _ *discord.GatewayPayload) error {
	shard.debug("[RECONNECT] Discord asked us to reconnect")

	shard.destroyLocked(DestroyOptions{CloseCode: WebsocketReconnectCloseCode, Emit: true, Log: true})

	return nil
}

func gatewayOpInvalidSession(shard *Shard, msg *discord.GatewayPayload) error {
	var resumable discord.InvalidSession

	if err := unmarshalPayload(msg, &resumable); err != nil {
		return err
	}

	shard.debugf("[INVALID SESSION] Resumable: %t.", bool(resumable))

	if resumable {
		shard.identifyResumeLocked()

		return nil
	}

	shard.session.reset()
	shard.setStatusLocked(StatusReconnecting)

	shard.emit(shardEvent{kind: shardEventInvalidSession})
	shard.settleLocked(ErrShardInvalidSession)

	return nil
}

func gatewayOpHello(shard *Shard, msg *discord.GatewayPayload) error {
	var hello discord.Hello

	if err := unmarshalPayload(msg, &hello); err != nil {
		return err
	}

	if hello.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}

	shard.debugf("[HELLO] Received HELLO after %dms.", shard.env.clock.Since(shard.connectStarted).Milliseconds())

	stopTimer(&shard.helloTimer)

	shard.lastHeartbeatAcked = true
	shard.setHeartbeatTimerLocked(time.Duration(hello.HeartbeatInterval) * time.Millisecond)
	shard.identifyLocked()

	return nil
}

func gatewayOpHeartbeatAck(shard *Shard, _ *discord.GatewayPayload) error {
	shard.ackHeartbeatLocked()

	return nil
}

func init() {
	registerGatewayHandler(discord.GatewayOpDispatch, gatewayOpDispatch)
	registerGatewayHandler(discord.GatewayOpHeartbeat, gatewayOpHeartbeat)
	registerGatewayHandler(discord.GatewayOpReconnect, gatewayOpReconnect)
	registerGatewayHandler(discord.GatewayOpInvalidSession, gatewayOpInvalidSession)
	registerGatewayHandler(discord.GatewayOpHello, gatewayOpHello)
	registerGatewayHandler(discord.GatewayOpHeartbeatACK, gatewayOpHeartbeatAck)
}
