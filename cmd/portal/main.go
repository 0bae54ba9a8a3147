// Command portal is the sidecar every sandbox image's entrypoint launches.
// It listens on the VM-local portal port and never talks to the host
// directly; the supervisor reaches it over the VM's virtual network.
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/opensandbox/opensandbox/internal/portal"
)

func main() {
	addr := flag.String("addr", ":4444", "address to listen on inside the VM")
	flag.Parse()

	srv := portal.NewServer(0)
	log.Printf("portal: listening on %s", *addr)
	if err := http.ListenAndServe(*addr, srv.Handler()); err != nil {
		log.Fatalf("portal: %v", err)
	}
}
