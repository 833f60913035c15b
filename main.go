// The main package for the fanbox-archiver executable.
package main

import "github.com/JakeFAU/fanbox-archiver/cmd"

func main() {
	cmd.Execute()
}
