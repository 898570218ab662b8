package network

import (
	"errors"

	"go.uber.org/zap"

	"krill/internal/engine"
	"krill/internal/protocol"
)

// Handle dispatches one request against the engine and builds the reply.
// Engine errors never escape: every failure becomes a failure response so
// the connection stays usable.
func Handle(log *zap.SugaredLogger, eng engine.Engine, req protocol.Request) protocol.Response {
	switch req.Op {
	case protocol.OpSet:
		if err := eng.Set(req.Key, req.Value); err != nil {
			log.Errorw("set failed", "key", req.Key, "error", err)
			return protocol.Failure(err.Error())
		}
		return protocol.SuccessNone()

	case protocol.OpGet:
		value, ok, err := eng.Get(req.Key)
		if err != nil {
			log.Errorw("get failed", "key", req.Key, "error", err)
			return protocol.Failure(err.Error())
		}
		if !ok {
			return protocol.SuccessNone()
		}
		return protocol.SuccessValue(value)

	case protocol.OpRemove:
		err := eng.Remove(req.Key)
		switch {
		case err == nil:
			log.Debugw("entry removed", "key", req.Key)
			return protocol.SuccessNone()
		case errors.Is(err, engine.ErrKeyNotFound):
			log.Debugw("entry not found", "key", req.Key)
			return protocol.Failure("Key not found")
		default:
			log.Errorw("remove failed", "key", req.Key, "error", err)
			return protocol.Failure(err.Error())
		}

	default:
		return protocol.Failure("invalid request")
	}
}
