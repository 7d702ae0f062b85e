package main

import (
	"smartlocate/internal/bootstrap"
)

func main() {
	bootstrap.NewApp().Run()
}
