// Package process supervises the local vision pipeline server.
//
// Most installations run the classifier as its own service and only set
// vision.url. When vision.command is set, garden core starts the server
// itself, waits for it to accept connections, restarts it with backoff when
// it dies and kills it when its readiness probe keeps failing.
//
//	sup := process.NewSupervisor(process.Config{
//	    Name:    "vision",
//	    Command: []string{"python3", "serve.py", "--port", "8000"},
//	    Probe:   visionClient.HealthCheck,
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
