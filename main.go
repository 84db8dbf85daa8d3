// Command missilery crawls the missilery.info catalog and imports it into a
// relational store.
package main

import "github.com/JakeFAU/missilery-catalog/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
