package main

import "github.com/ValentinKolb/portrpc/cmd"

func main() {
	cmd.Execute()
}
