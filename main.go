package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/fractal-im/fractal-go/backend"
	"github.com/fractal-im/fractal-go/config"
	"github.com/fractal-im/fractal-go/pkg/model"
)

var version = "0.1.0"

func main() {
	flagConfig := flag.String("conf", "", "config file")
	flagDebug := flag.Bool("debug", false, "enable debug logging")
	flagTrace := flag.Bool("trace", false, "enable trace logging")
	flagVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *flagVersion {
		fmt.Printf("version: %s\n", version)
		return
	}

	v, err := config.LoadConfig(*flagConfig)
	if err != nil {
		logrus.Fatal(err)
	}

	if *flagDebug {
		v.Set("debug", true)
	}

	if *flagTrace {
		v.Set("trace", true)
	}

	b, err := backend.New(v)
	if err != nil {
		logrus.Fatal(err)
	}

	go b.Run()
	go printResponses(b)

	if b.ResumeSession() {
		fmt.Println("resumed stored session")
	} else {
		fmt.Println("not logged in, use: login <user> <password> [server]")
	}

	repl(b)
}

// repl reads one command per line from stdin and enqueues it on the
// bus. It owns the active-room selection.
func repl(b *backend.Backend) {
	activeRoom := ""
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "quit", "exit":
			b.Commands <- &backend.Command{Type: backend.CmdShutDown}
			time.Sleep(100 * time.Millisecond)

			return
		case "login":
			if len(args) < 2 {
				fmt.Println("usage: login <user> <password> [server]")
				continue
			}

			b.Commands <- &backend.Command{Type: backend.CmdLogin, Data: backend.LoginData{
				Username: args[0],
				Password: args[1],
				Server:   optArg(args, 2),
			}}
		case "register":
			if len(args) < 2 {
				fmt.Println("usage: register <user> <password> [server]")
				continue
			}

			b.Commands <- &backend.Command{Type: backend.CmdRegister, Data: backend.RegisterData{
				Username: args[0],
				Password: args[1],
				Server:   optArg(args, 2),
			}}
		case "guest":
			b.Commands <- &backend.Command{Type: backend.CmdGuest, Data: backend.GuestData{Server: optArg(args, 0)}}
		case "logout":
			b.Commands <- &backend.Command{Type: backend.CmdLogout}
		case "whoami":
			b.Commands <- &backend.Command{Type: backend.CmdGetUsername}
		case "avatar":
			b.Commands <- &backend.Command{Type: backend.CmdGetAvatar}
		case "user":
			if len(args) < 1 {
				continue
			}

			reply := make(chan [2]string, 1)
			b.Commands <- &backend.Command{Type: backend.CmdGetUserInfoAsync, Data: backend.GetUserInfoData{UID: args[0], Reply: reply}}

			go func(uid string) {
				info := <-reply
				fmt.Printf("%s: %q avatar=%s\n", uid, info[0], info[1])
			}(args[0])
		case "sync":
			b.Commands <- &backend.Command{Type: backend.CmdSync}
		case "resync":
			b.Commands <- &backend.Command{Type: backend.CmdSyncForced}
		case "room":
			if len(args) < 1 {
				fmt.Printf("active room: %s\n", activeRoom)
				continue
			}

			activeRoom = args[0]
			b.Commands <- &backend.Command{Type: backend.CmdSetRoom, Data: backend.SetRoomData{RoomID: activeRoom}}
		case "more":
			b.Commands <- &backend.Command{Type: backend.CmdGetRoomMessages, Data: backend.GetRoomMessagesData{RoomID: activeRoom}}
		case "say":
			if activeRoom == "" || len(args) == 0 {
				fmt.Println("usage: room <id>, then say <text>")
				continue
			}

			b.Commands <- &backend.Command{Type: backend.CmdSendMsg, Data: backend.SendMsgData{Msg: &model.Message{
				MType: model.MsgText,
				Body:  strings.Join(args, " "),
				Room:  activeRoom,
				Date:  time.Now(),
			}}}
		case "attach":
			if activeRoom == "" || len(args) < 1 {
				continue
			}

			b.Commands <- &backend.Command{Type: backend.CmdAttachFile, Data: backend.AttachFileData{Msg: &model.Message{
				MType: model.MsgFile,
				Body:  args[0],
				URL:   args[0],
				Room:  activeRoom,
				Date:  time.Now(),
			}}}
		case "join":
			if len(args) < 1 {
				continue
			}

			b.Commands <- &backend.Command{Type: backend.CmdJoinRoom, Data: backend.JoinRoomData{RoomID: args[0]}}
		case "leave":
			if len(args) < 1 {
				continue
			}

			b.Commands <- &backend.Command{Type: backend.CmdLeaveRoom, Data: backend.LeaveRoomData{RoomID: args[0]}}
		case "read":
			if len(args) < 2 {
				continue
			}

			b.Commands <- &backend.Command{Type: backend.CmdMarkAsRead, Data: backend.MarkAsReadData{RoomID: args[0], EventID: args[1]}}
		case "name":
			if len(args) < 2 {
				continue
			}

			b.Commands <- &backend.Command{Type: backend.CmdSetRoomName, Data: backend.SetRoomNameData{RoomID: args[0], Name: strings.Join(args[1:], " ")}}
		case "topic":
			if len(args) < 2 {
				continue
			}

			b.Commands <- &backend.Command{Type: backend.CmdSetRoomTopic, Data: backend.SetRoomTopicData{RoomID: args[0], Topic: strings.Join(args[1:], " ")}}
		case "newroom":
			if len(args) < 1 {
				continue
			}

			visibility := backend.RoomVisibilityPrivate
			if len(args) > 1 && args[1] == "public" {
				visibility = backend.RoomVisibilityPublic
			}

			b.Commands <- &backend.Command{Type: backend.CmdNewRoom, Data: backend.NewRoomData{
				Name:       args[0],
				Visibility: visibility,
				ClientID:   uuid.New().String(),
			}}
		case "dm":
			if len(args) < 1 {
				continue
			}

			b.Commands <- &backend.Command{Type: backend.CmdDirectChat, Data: backend.DirectChatData{
				User:     &model.Member{UID: args[0]},
				ClientID: uuid.New().String(),
			}}
		case "fav":
			if len(args) < 2 {
				continue
			}

			b.Commands <- &backend.Command{Type: backend.CmdAddToFav, Data: backend.AddToFavData{RoomID: args[0], Fav: args[1] == "on"}}
		case "invite":
			if len(args) < 2 {
				continue
			}

			b.Commands <- &backend.Command{Type: backend.CmdInvite, Data: backend.InviteData{RoomID: args[0], UserID: args[1]}}
		case "search":
			b.Commands <- &backend.Command{Type: backend.CmdSearch, Data: backend.SearchData{RoomID: activeRoom, Term: strings.Join(args, " ")}}
		case "usearch":
			b.Commands <- &backend.Command{Type: backend.CmdUserSearch, Data: backend.UserSearchData{Term: strings.Join(args, " ")}}
		case "thumb":
			if len(args) < 1 {
				continue
			}

			reply := make(chan string, 1)
			b.Commands <- &backend.Command{Type: backend.CmdGetThumbAsync, Data: backend.GetThumbAsyncData{MXC: args[0], Reply: reply}}

			go func(mxc string) {
				fmt.Printf("thumb %s -> %s\n", mxc, <-reply)
			}(args[0])
		case "media":
			if len(args) < 1 {
				continue
			}

			b.Commands <- &backend.Command{Type: backend.CmdGetMedia, Data: backend.GetMediaData{MXC: args[0]}}
		case "protocols":
			b.Commands <- &backend.Command{Type: backend.CmdDirectoryProtocols}
		case "dirsearch":
			b.Commands <- &backend.Command{Type: backend.CmdDirectorySearch, Data: backend.DirectorySearchData{Query: strings.Join(args, " ")}}
		case "dirmore":
			b.Commands <- &backend.Command{Type: backend.CmdDirectorySearch, Data: backend.DirectorySearchData{More: true}}
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

func optArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}

	return ""
}

// printResponses renders every bus response as one line.
func printResponses(b *backend.Backend) {
	for r := range b.Responses {
		switch d := r.Data.(type) {
		case backend.TokenData:
			fmt.Printf("<- logged in as %s\n", d.UID)
		case backend.RoomsData:
			for _, room := range d.Rooms {
				fmt.Printf("<- room %s %q\n", room.ID, room.CalculateName(""))
			}

			if d.Default != nil {
				fmt.Printf("<- default room %s\n", d.Default.ID)
			}
		case backend.NewRoomsData:
			for _, room := range d.Rooms {
				fmt.Printf("<- new room %s %q\n", room.ID, room.CalculateName(""))
			}
		case backend.RoomMessagesData:
			for _, msg := range d.Msgs {
				fmt.Printf("<- [%s] <%s> %s\n", msg.Room, msg.Sender, msg.Body)
			}
		case backend.RoomMessagesToData:
			for _, msg := range d.Msgs {
				fmt.Printf("<- [%s] <%s> %s\n", msg.Room, msg.Sender, msg.Body)
			}
		case backend.SentMsgData:
			fmt.Printf("<- sent %s as %s\n", d.TxnID, d.EventID)
		case backend.SyncDoneData:
			fmt.Printf("<- synced (%s)\n", d.Since)
		case backend.SyncErrorData:
			fmt.Printf("<- sync error: %v\n", d.Err)
		case backend.SearchResultsData:
			for _, msg := range d.Msgs {
				fmt.Printf("<- hit [%s] <%s> %s\n", msg.Room, msg.Sender, msg.Body)
			}
		case backend.UserSearchResultsData:
			for _, user := range d.Users {
				fmt.Printf("<- user %s %q\n", user.UID, user.Alias)
			}
		case backend.DirectoryProtocolsData:
			for _, p := range d.Protocols {
				fmt.Printf("<- protocol %q (%s)\n", p.Description, p.ID)
			}
		case backend.DirectorySearchResultsData:
			for _, room := range d.Rooms {
				fmt.Printf("<- public room %s %q\n", room.ID, room.Name)
			}
		case backend.CommandErrorData:
			fmt.Printf("<- %s failed: %v\n", d.Command, d.Err)
		default:
			fmt.Printf("<- %s %+v\n", r.Type, r.Data)
		}
	}
}
