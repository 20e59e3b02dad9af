package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/CMSgov/raf-app/raf/rafcli"
)

func main() {
	if err := rafcli.GetApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
