// Command vapidgen prints a fresh VAPID key pair in .env form.
package main

import (
	"flag"
	"fmt"

	"clinicmsg/logger"

	"github.com/SherClockHolmes/webpush-go"
)

func main() {
	subscriber := flag.String("subscriber", "mailto:admin@example.com", "contact sent to push services")
	flag.Parse()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		logger.Fatal().Err(err).Msg("❌ Failed to generate VAPID keys")
	}

	fmt.Printf("VAPID_PUBLIC_KEY=%s\n", publicKey)
	fmt.Printf("VAPID_PRIVATE_KEY=%s\n", privateKey)
	fmt.Printf("VAPID_SUBSCRIBER=%s\n", *subscriber)
}
