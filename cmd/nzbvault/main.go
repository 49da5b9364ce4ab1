// Command nzbvault runs the WebDAV gateway that exposes NZB-backed
// Usenet binaries as a browsable, streamable filesystem.
package main

import "github.com/nzbvault/nzbvault/cmd/nzbvault/cmd"

func main() {
	cmd.Execute()
}
