package crisalidbus

import (
	runtimepkg "github.com/projects-backend/crisalidbus/internal/runtime"
	configpkg "github.com/projects-backend/crisalidbus/internal/runtime/config"
	eventspkg "github.com/projects-backend/crisalidbus/internal/runtime/events"
	loggingpkg "github.com/projects-backend/crisalidbus/internal/runtime/logging"
	metricspkg "github.com/projects-backend/crisalidbus/internal/runtime/metrics"
	taskspkg "github.com/projects-backend/crisalidbus/internal/runtime/tasks"
)

type (
	MessageType  = runtimepkg.MessageType
	EventKind    = runtimepkg.EventKind
	InboundEvent = runtimepkg.InboundEvent
	DecodeError  = runtimepkg.DecodeError
	ParseError   = runtimepkg.ParseError
	SchemaError  = runtimepkg.SchemaError

	Handler    = runtimepkg.Handler
	HandlerKey = runtimepkg.HandlerKey
	Registry   = runtimepkg.Registry

	Connection        = runtimepkg.Connection
	ConnectionOptions = runtimepkg.ConnectionOptions
	ConnState         = runtimepkg.ConnState
	BrokerConn        = runtimepkg.BrokerConn
	BrokerChannel     = runtimepkg.BrokerChannel
	DialFunc          = runtimepkg.DialFunc

	Supervisor        = runtimepkg.Supervisor
	SupervisorOptions = runtimepkg.SupervisorOptions

	Tenant      = configpkg.Tenant
	Config      = configpkg.Config
	Store       = configpkg.Store
	FileStore   = configpkg.FileStore
	StaticStore = configpkg.StaticStore

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	BusMetrics = metricspkg.Bus

	TaskBridge       = taskspkg.Bridge
	TaskWorker       = taskspkg.Worker
	TaskTransport    = taskspkg.Transport
	TaskTransportOpt = taskspkg.TransportOptions

	DirectoryStore = eventspkg.DirectoryStore
	EventsOptions  = eventspkg.Options
)

const (
	TypePerson            = runtimepkg.TypePerson
	TypeResearchStructure = runtimepkg.TypeResearchStructure
	TypeDocument          = runtimepkg.TypeDocument
	TypeHarvestingResult  = runtimepkg.TypeHarvestingResult

	EventCreated   = runtimepkg.EventCreated
	EventUpdated   = runtimepkg.EventUpdated
	EventDeleted   = runtimepkg.EventDeleted
	EventUnchanged = runtimepkg.EventUnchanged

	Exchange = runtimepkg.Exchange

	StateDisconnected  = runtimepkg.StateDisconnected
	StateConnecting    = runtimepkg.StateConnecting
	StateConsuming     = runtimepkg.StateConsuming
	StateDisconnecting = runtimepkg.StateDisconnecting
)

var (
	ErrDuplicateHandler = runtimepkg.ErrDuplicateHandler
	ErrAlreadyConnected = runtimepkg.ErrAlreadyConnected

	ValidateEnvelope = runtimepkg.ValidateEnvelope
	MessageTypes     = runtimepkg.MessageTypes
	EventKinds       = runtimepkg.EventKinds
	RoutingKeys      = runtimepkg.RoutingKeys

	NewRegistry   = runtimepkg.NewRegistry
	NewConnection = runtimepkg.NewConnection
	NewSupervisor = runtimepkg.NewSupervisor

	LoadConfig = configpkg.Load

	NewSlogLogger      = loggingpkg.NewSlogLogger
	NewWatermillLogger = loggingpkg.NewWatermillLogger
	NopLogger          = loggingpkg.Nop

	NewBusMetrics = metricspkg.NewBus

	NewTaskBridge    = taskspkg.NewBridge
	NewTaskWorker    = taskspkg.NewWorker
	NewTaskTransport = taskspkg.NewTransport

	RegisterDirectoryHandlers = eventspkg.RegisterDirectoryHandlers
	NewLogStore               = eventspkg.NewLogStore
)
