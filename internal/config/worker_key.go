package config

type WorkerKeyStruct struct {
	PersistAnswersQueue string
	PersistResultsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswersQueue: "persist_answers_queue",
	PersistResultsQueue: "persist_results_queue",
}
