/* *****************************************************************************
 * Nehonix Taskmaster Process Supervisor
 * (see root.go for full license header)
 ***************************************************************************** */

package cli

import (
	"fmt"
	"os"

	"github.com/Nehonix-Team/taskmaster/internal/config"
	"github.com/Nehonix-Team/taskmaster/internal/control"
	"github.com/Nehonix-Team/taskmaster/internal/ctlsock"
	"github.com/Nehonix-Team/taskmaster/internal/httpapi"
	"github.com/Nehonix-Team/taskmaster/internal/logging"
	"github.com/Nehonix-Team/taskmaster/internal/ports"
	"github.com/Nehonix-Team/taskmaster/internal/repl"
	"github.com/Nehonix-Team/taskmaster/internal/supervisor"
	"github.com/Nehonix-Team/taskmaster/internal/watcher"
)

// runDaemon boots the engine from the catalog at path and serves the control
// surfaces until shutdown. Any startup failure (bad config, port in use)
// returns an error before anything is spawned.
func runDaemon(path string, daemonMode bool) error {
	catalog, invalid, err := config.Load(path)
	if err != nil {
		return err
	}

	log := logging.New(logging.Options{
		File:  catalog.Global.LogFile,
		Level: catalog.Global.LogLevel,
	})
	for _, verr := range invalid {
		log.Warnf("config: %v", verr)
	}

	loadCatalog := func() (map[string]*supervisor.ProgramSpec, error) {
		cat, warns, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		for _, werr := range warns {
			log.Warnf("config: %v", werr)
		}
		return cat.Programs, nil
	}

	sup := supervisor.New(log, ports.RealClock(), ports.OSSignals())
	facade := control.New(sup, loadCatalog)

	sock := ctlsock.New(facade, log)
	if err := sock.Listen(catalog.Global.Control); err != nil {
		return err
	}
	api := httpapi.New(facade, log)
	if err := api.Listen(catalog.Global.HTTP); err != nil {
		sock.Close()
		return err
	}

	if err := sup.Boot(catalog.Programs); err != nil {
		log.Warnf("boot: %v", err)
	}
	sup.InstallSignalHandlers(loadCatalog)

	var cw *watcher.ConfigWatcher
	if catalog.Global.Watch {
		cw, err = watcher.New(path, log)
		if err != nil {
			log.Warnf("config watcher: %v", err)
		} else {
			cw.Watch(func() {
				log.Infof("config file changed, reloading")
				if rerr := facade.Reload(); rerr != nil {
					log.Errorf("auto-reload: %v", rerr)
				}
			})
		}
	}

	if !daemonMode {
		go repl.New(facade, Version, os.Stdin, os.Stdout).Run()
	} else {
		fmt.Printf("taskmaster %s running (config %s)\n", Version, path)
	}

	<-facade.Done()

	if cw != nil {
		_ = cw.Close()
	}
	api.Close()
	sock.Close()
	return nil
}
