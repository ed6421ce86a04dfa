package handler

import (
	"net/http"

	"go-file-transfer/internal/middleware"
	"go-file-transfer/internal/model"
)

// actorFromRequest identifies the caller; unauthenticated requests only
// carry their address.
func actorFromRequest(r *http.Request) model.Actor {
	if actor, ok := middleware.ActorFromContext(r.Context()); ok {
		return actor
	}
	return model.Actor{IP: middleware.ClientIP(r)}
}
