package config

type WorkerKeyStruct struct {
	PersistPresenceQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistPresenceQueue: "persist_presence_queue",
}
