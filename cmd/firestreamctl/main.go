// Command firestreamctl drives the watch stream, the write stream, and
// the unary commit/lookup RPCs end to end against a Firestore-compatible
// server.
package main

func main() {
	Execute()
}
