// Command intervue is the entry point of the live technical-interview
// assistant.
//
// Usage:
//
//	# Start the HTTP/WebSocket server
//	intervue serve --config config.yaml
//
//	# Analyze one answer from the terminal
//	echo "A goroutine is a lightweight thread" | intervue analyze
//
//	# Show recently relayed transcripts (requires transcripts.postgres_dsn)
//	intervue transcripts --session default --limit 20
//
//	# Show version information
//	intervue version
package main

func main() {
	Execute()
}
