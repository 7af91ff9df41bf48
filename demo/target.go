/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: target.go
Description: Demo monitored process. Simulates an app that keeps calling a few
sensitive APIs through the interception engine, so the drive loop, the policy
file and the log server can be tried out without a device.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kleascm/akaylee-probe/pkg/config"
	"github.com/kleascm/akaylee-probe/pkg/logging"
	"github.com/kleascm/akaylee-probe/pkg/monitor"
	"github.com/sirupsen/logrus"
)

const demoAPIs = `
apis:
  - type: android.content.ContentResolver
    method: query
    returns: android.database.Cursor
    params: [android.net.Uri, java.lang.String[]]
  - type: android.telephony.TelephonyManager
    method: getDeviceId
    returns: java.lang.String
  - type: android.location.LocationManager
    method: getLastKnownLocation
    returns: android.location.Location
    params: [java.lang.String]
  - type: android.telephony.SmsManager
    method: sendTextMessage
    params: [java.lang.String, java.lang.String]
`

type app struct {
	engine *monitor.Engine
	apis   *monitor.APITable
	logger *logging.Logger
}

func (a *app) queryContacts() (string, error) {
	api := a.apis.MustLookup("android.content.ContentResolver.query(android.net.Uri,java.lang.String[])")
	args := []monitor.Value{
		monitor.URI("content://com.android.contacts/contacts"),
		monitor.Strings("display_name", "number"),
	}
	return monitor.Intercept(a.engine, api, args, func() (string, error) {
		return "cursor(2 rows)", nil
	})
}

func (a *app) deviceID() (string, error) {
	api := a.apis.MustLookup("android.telephony.TelephonyManager.getDeviceId()")
	return monitor.Intercept(a.engine, api, nil, func() (string, error) {
		return "358240051111110", nil
	})
}

func (a *app) location() (string, error) {
	api := a.apis.MustLookup("android.location.LocationManager.getLastKnownLocation(java.lang.String)")
	return monitor.Intercept(a.engine, api, []monitor.Value{monitor.ScalarOf("gps")}, func() (string, error) {
		return "Location[gps 52.52,13.40]", nil
	})
}

func (a *app) sendSMS() error {
	api := a.apis.MustLookup("android.telephony.SmsManager.sendTextMessage(java.lang.String,java.lang.String)")
	args := []monitor.Value{monitor.ScalarOf("+15550100"), monitor.ScalarOf("hello")}
	return monitor.InterceptVoid(a.engine, api, args, func() error { return nil })
}

// tick performs one round of API calls, reporting denials.
func (a *app) tick() {
	steps := []struct {
		name string
		call func() (string, error)
	}{
		{"contacts", a.queryContacts},
		{"device id", a.deviceID},
		{"location", a.location},
		{"sms", func() (string, error) { return "sent", a.sendSMS() }},
	}
	for _, s := range steps {
		result, err := s.call()
		var denied *monitor.SecurityError
		switch {
		case errors.As(err, &denied):
			a.logger.LogDenial(denied.API, a.engine.PID())
		case err != nil:
			a.logger.Error("Call failed", logrus.Fields{"call": s.name, "error": err.Error()})
		default:
			a.logger.Debug("Call returned", logrus.Fields{"call": s.name, "result": result})
		}
	}
}

func run() error {
	v := config.New()
	path := ""
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(v, path)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	apis, err := monitor.ParseAPITable(strings.NewReader(demoAPIs))
	if err != nil {
		return err
	}

	engine := monitor.New(cfg.Monitor, monitor.WithLogger(logger.GetLogger()))
	if err := engine.Attach(); err != nil {
		logger.Warning("Port file unavailable, listening on a free port", logrus.Fields{"error": err.Error()})
		if err := engine.Listen(0); err != nil {
			return err
		}
	}
	defer engine.Close()
	fmt.Printf("🎯 Demo target %s (pid %s) serving call logs on port %d\n",
		engine.ProcessName(), engine.PID(), engine.Port())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := &app{engine: engine, apis: apis, logger: logger}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-engine.Done():
			fmt.Println("✨ Log server closed, exiting")
			return engine.Err()
		case <-ticker.C:
			a.tick()
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
