package main

import (
	"log"

	"github.com/pratikjadhav2726/RecruitRAG/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
