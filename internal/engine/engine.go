package engine

import (
	"lilychat/internal/database"
	"lilychat/internal/engine/actors"
	"lilychat/internal/realtime"
	"lilychat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
)

// Engine owns the top-level actors. All profile mutations flow through the
// profile supervisor; all message writes flow through the message actor.
type Engine struct {
	profileSupervisor *actor.PID
	messageActor      *actor.PID
	metrics           *utils.MetricsCollector
}

func NewEngine(system *actor.ActorSystem, db database.DBAdapter, hub *realtime.Hub, metrics *utils.MetricsCollector) *Engine {
	context := system.Root

	// Spawn profile supervisor
	profileProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewProfileSupervisor(db, hub)
	})
	profilePID := context.Spawn(profileProps)

	// Spawn message actor
	messageProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewMessageActor(db, hub)
	})
	messagePID := context.Spawn(messageProps)

	return &Engine{
		profileSupervisor: profilePID,
		messageActor:      messagePID,
		metrics:           metrics,
	}
}

func (e *Engine) GetProfileSupervisor() *actor.PID {
	return e.profileSupervisor
}

func (e *Engine) GetMessageActor() *actor.PID {
	return e.messageActor
}

func (e *Engine) Metrics() *utils.MetricsCollector {
	return e.metrics
}
