// Command polyrun executes polyglot source files: files split into
// #lang: blocks that run in order, each in its own language, sharing
// values through #import: and #export: directives.
package main

func main() {
	Execute()
}
