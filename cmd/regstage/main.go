package main

import "github.com/dbsmedya/regstage/cmd/regstage/cmd"

func main() {
	cmd.Execute()
}
