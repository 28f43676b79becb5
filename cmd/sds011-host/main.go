package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rosek86/sds011"
	"github.com/rosek86/sds011/host/sensor"
)

var (
	device = flag.String("device", "/dev/ttyUSB0", "Serial device path")
	devID  = flag.Uint("devid", uint(sds011.BroadcastDevID), "Target sensor device id (default: broadcast)")
)

func main() {
	flag.Parse()

	fmt.Println("sds011-host - SDS011 laser dust sensor host driver")
	fmt.Println("===================================================")
	fmt.Println()

	s := sensor.New()

	fmt.Printf("Connecting to sensor on %s...\n", *device)
	if err := s.Connect(*device); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	s.SetSampleObserver(func(msg sds011.Message) {
		fmt.Printf("\n[sample] dev=%#04x pm2.5=%.1f ug/m3 pm10=%.1f ug/m3\n> ",
			msg.DevID, float64(msg.Sample.PM2_5)/10, float64(msg.Sample.PM10)/10)
	})

	fmt.Println("Connected. Type 'help' for available commands, 'quit' to exit.")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]
		id := uint16(*devID)

		switch cmd {
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return

		case "help", "?":
			printHelp()

		case "query":
			runCommand(func() error {
				sample, err := s.QueryData(id)
				if err != nil {
					return err
				}
				fmt.Printf("pm2.5=%.1f ug/m3 pm10=%.1f ug/m3\n", float64(sample.PM2_5)/10, float64(sample.PM10)/10)
				return nil
			})

		case "devid":
			if len(parts) < 2 {
				fmt.Println("usage: devid <new-id-hex>")
				continue
			}
			newID, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 16)
			if err != nil {
				fmt.Printf("invalid device id: %v\n", err)
				continue
			}
			runCommand(func() error { return s.SetDeviceID(id, uint16(newID)) })

		case "repmode":
			if len(parts) < 2 {
				fmt.Println("usage: repmode <get|active|query>")
				continue
			}
			runCommand(func() error { return handleRepMode(s, id, parts[1]) })

		case "sleep":
			if len(parts) < 2 {
				fmt.Println("usage: sleep <get|on|off>")
				continue
			}
			runCommand(func() error { return handleSleep(s, id, parts[1]) })

		case "opmode":
			if len(parts) < 2 {
				fmt.Println("usage: opmode <get|continuous|interval-N>")
				continue
			}
			runCommand(func() error { return handleOpMode(s, id, parts[1]) })

		case "fwver":
			runCommand(func() error {
				fw, err := s.GetFirmwareVersion(id)
				if err != nil {
					return err
				}
				fmt.Printf("firmware: 20%02d-%02d-%02d\n", fw.Year, fw.Month, fw.Day)
				return nil
			})

		default:
			fmt.Printf("unknown command: %s (type 'help' for available commands)\n", cmd)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(fn func() error) {
	if err := fn(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

func handleRepMode(s *sensor.Sensor, id uint16, arg string) error {
	switch arg {
	case "get":
		mode, err := s.GetReportingMode(id)
		if err != nil {
			return err
		}
		fmt.Printf("reporting mode: %v\n", mode)
		return nil
	case "active":
		return s.SetReportingModeActive(id)
	case "query":
		return s.SetReportingModeQuery(id)
	default:
		return fmt.Errorf("unknown repmode argument: %s", arg)
	}
}

func handleSleep(s *sensor.Sensor, id uint16, arg string) error {
	switch arg {
	case "get":
		state, err := s.GetSleep(id)
		if err != nil {
			return err
		}
		fmt.Printf("sleep state: %v\n", state)
		return nil
	case "on":
		return s.SetSleepOn(id)
	case "off":
		return s.SetSleepOff(id)
	default:
		return fmt.Errorf("unknown sleep argument: %s", arg)
	}
}

func handleOpMode(s *sensor.Sensor, id uint16, arg string) error {
	switch {
	case arg == "get":
		mode, err := s.GetOpMode(id)
		if err != nil {
			return err
		}
		fmt.Printf("op mode: mode=%v interval=%d\n", mode.Mode, mode.Interval)
		return nil
	case arg == "continuous":
		return s.SetOpModeContinuous(id)
	case strings.HasPrefix(arg, "interval-"):
		n, err := strconv.Atoi(strings.TrimPrefix(arg, "interval-"))
		if err != nil || n < 1 || n > 30 {
			return fmt.Errorf("interval must be 1..30")
		}
		return s.SetOpModePeriodic(id, uint8(n))
	default:
		return fmt.Errorf("unknown opmode argument: %s", arg)
	}
}

func printHelp() {
	fmt.Println()
	fmt.Println("Available commands:")
	fmt.Println("  query                    - read one particulate sample")
	fmt.Println("  devid <new-id-hex>       - reassign the sensor's device id")
	fmt.Println("  repmode <get|active|query> - get/set the reporting mode")
	fmt.Println("  sleep <get|on|off>       - get/set sleep state")
	fmt.Println("  opmode <get|continuous|interval-N> - get/set duty cycle (N=1..30)")
	fmt.Println("  fwver                    - read firmware build date")
	fmt.Println("  quit/exit/q              - exit the program")
	fmt.Println()
}
