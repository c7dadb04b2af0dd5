// Package assistantpg runs assistant-API style runs on PostgreSQL.
//
// A run takes a thread and an assistant through an asynchronous loop of
// model invocations and tool calls until it reaches a terminal status.
// Every intermediate step is persisted: assistant messages, tool_calls
// run steps, and the required_action handshake external function tools
// use to return their outputs. Scheduling is a durable job queue with
// at-least-once delivery; a rescuer re-delivers jobs whose worker died.
//
// The Client ties the pieces together: a storage.Store for persistence,
// a jobqueue.Queue for scheduling, an invoker.ModelInvoker for the chat
// model, and built-in tool bodies from the tool package. Typical usage:
//
//	store := storage.NewPostgresStore(pool)
//	queue := jobqueue.NewPostgresQueue(pool)
//	client, err := assistantpg.NewClient(store, queue,
//		invoker.NewOpenAIInvokerFromKey(os.Getenv("OPENAI_API_KEY")),
//		assistantpg.WithConcurrency(16),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := client.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer client.Stop(ctx)
//
//	run, err := client.CreateRun(ctx, threadID, assistantID)
package assistantpg
