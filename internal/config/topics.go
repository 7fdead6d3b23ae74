package config

const (
	// TopicImportChunk carries one bounded chunk of an import run.
	TopicImportChunk = "import.chunk"

	// TopicImportTick is the periodic scheduler trigger; the consumer
	// starts whichever jobs are due.
	TopicImportTick = "import.tick"

	// TopicImportResult carries chunk outcomes for observability.
	TopicImportResult = "import.result"
)
