package proto

import gonanoid "github.com/matoous/go-nanoid/v2"

// ID returns a random identifier for servers and log correlation.
func ID() string {
	id, err := gonanoid.New()
	if err != nil {
		panic(err)
	}
	return id
}
