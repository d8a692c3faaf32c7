// Package events provides change notifications for boxes.
//
// Services emit a BoxChanged event after every committed mutation. Handlers
// registered on an emitter react to them without the services knowing who
// listens; the Broadcaster handler fans events out to per-box subscribers
// such as websocket watchers.
//
// The primary components are:
// - BoxChanged: Describes a committed change to a box or its cards
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
// - Broadcaster: EventHandler delivering events to box subscribers
package events
