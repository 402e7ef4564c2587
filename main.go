/*
Copyright © 2024 Jake Rogers <code@supportoss.org>
*/
package main

import "github.com/JakeTRogers/pyCheck/cmd"

func main() {
	cmd.Execute()
}
