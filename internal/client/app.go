package client

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/vladimirruppel/retroim/internal/config"
)

// RunClient подключается к серверу и крутит консольный цикл команд до exit
// или конца stdin.
func RunClient(cfg config.Config) error {
	backend, err := Dial(cfg.ServerAddr)
	if err != nil {
		return err
	}
	defer backend.Close()

	settings := NewSettings(cfg.Sound.Volume, cfg.Sound.Muted)
	var sounds CuePlayer = NoopPlayer{}
	if cfg.Sound.Dir != "" {
		sounds = NewSoundPlayer(cfg.Sound.Dir, settings)
	}

	coord := NewCoordinator(backend, sounds, cfg)
	coord.Start()
	defer coord.Stop()

	// Перерисовка по сигналу координатора; ввод остается на главной горутине.
	go func() {
		for range coord.Updates() {
			Render(coord)
		}
	}()

	Render(coord)
	printHelp()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := handleCommand(coord, settings, line); quit {
			return nil
		}
	}
	return scanner.Err()
}

func printHelp() {
	fmt.Println(`Commands:
  signon <screen name> <password>   sign on (creates the account if needed)
  signoff                           sign off
  open <screen name>                open a chat window with a buddy
  close                             close the active chat window
  minimize                          hide the active chat window
  focus <screen name>               bring a buddy's chat window to front
  back                              return focus to the previous window
  msg <text>                        send a message in the active chat window
  add <category> <uid> <name>       add a buddy (buddies/family/coworkers)
  remove <category> <uid>           remove a buddy
  volume <0..1> | mute | unmute     sound settings
  dismiss                           close the error window
  help | exit`)
}

// handleCommand выполняет одну команду. Возвращает true для выхода.
func handleCommand(coord *Coordinator, settings *Settings, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "exit", "quit":
		coord.SignOff()
		return true

	case "help":
		printHelp()

	case "signon":
		if len(args) < 2 {
			fmt.Println("Usage: signon <screen name> <password>")
			return false
		}
		coord.SignOn(args[0], args[1])

	case "signoff":
		coord.SignOff()

	case "open":
		if len(args) < 1 {
			fmt.Println("Usage: open <screen name>")
			return false
		}
		uid, screenname, ok := findBuddy(coord, args[0])
		if !ok {
			fmt.Printf("No buddy named %s in your list.\n", args[0])
			return false
		}
		coord.OpenChat(screenname, uid)

	case "close":
		if w, ok := activeChatWindow(coord); ok {
			coord.CloseChat(w.ID)
		} else {
			fmt.Println("No active chat window.")
		}

	case "minimize":
		if w, ok := activeChatWindow(coord); ok {
			coord.SetVisible(w.ID, false)
		} else {
			fmt.Println("No active chat window.")
		}

	case "focus":
		if len(args) < 1 {
			fmt.Println("Usage: focus <screen name>")
			return false
		}
		uid, _, ok := findBuddy(coord, args[0])
		if !ok {
			fmt.Printf("No buddy named %s in your list.\n", args[0])
			return false
		}
		if w, found := coord.ChatWindowForPeer(uid); found {
			coord.SetVisible(w.ID, true)
		} else {
			fmt.Printf("No chat window open with %s.\n", args[0])
		}

	case "back":
		coord.RestorePreviousFocus()

	case "msg":
		if len(args) < 1 {
			fmt.Println("Usage: msg <text>")
			return false
		}
		w, ok := activeChatWindow(coord)
		if !ok {
			fmt.Println("No active chat window.")
			return false
		}
		if view, found := coord.ConversationViewFor(w.ID); found {
			view.Send(strings.Join(args, " "))
		}

	case "add":
		if len(args) < 3 {
			fmt.Println("Usage: add <category> <uid> <screen name>")
			return false
		}
		coord.AddBuddy(args[0], args[1], strings.Join(args[2:], " "))

	case "remove":
		if len(args) < 2 {
			fmt.Println("Usage: remove <category> <uid>")
			return false
		}
		coord.RemoveBuddy(args[0], args[1])

	case "volume":
		if len(args) < 1 {
			fmt.Printf("Volume is %.2f\n", settings.Volume())
			return false
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			fmt.Println("Usage: volume <0..1>")
			return false
		}
		settings.SetVolume(v)

	case "mute":
		settings.SetMuted(true)

	case "unmute":
		settings.SetMuted(false)

	case "dismiss":
		coord.DismissError()

	default:
		log.Printf("Unknown command: %s", cmd)
		fmt.Println("Type 'help' for the list of commands.")
	}
	return false
}

// activeChatWindow возвращает активное окно, если это окно чата.
func activeChatWindow(coord *Coordinator) (Window, bool) {
	active := coord.ActiveWindowID()
	if active == "" {
		return Window{}, false
	}
	for _, w := range coord.ChatWindows() {
		if w.ID == active {
			return w, true
		}
	}
	return Window{}, false
}

// findBuddy ищет контакт в списке по screenname без учета регистра.
func findBuddy(coord *Coordinator, screenname string) (uid, canonical string, ok bool) {
	match := func(rows []BuddyRow) bool {
		for _, row := range rows {
			if strings.EqualFold(row.Screenname, screenname) {
				uid, canonical, ok = row.UID, row.Screenname, true
				return true
			}
		}
		return false
	}
	for _, group := range coord.BuddyGroups() {
		if match(group.Online) || match(group.Offline) {
			return
		}
	}
	return "", "", false
}
