// Package backend implements the protocol engine between the
// presentation layer and a Matrix homeserver: a command/response bus,
// a long-poll sync loop, room and message operations, a media fetch
// pipeline and the credential plumbing.
package backend

import (
	"encoding/json"
	"sync"

	prefixed "github.com/matterbridge/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/sync/semaphore"

	"github.com/fractal-im/fractal-go/config"
	"github.com/fractal-im/fractal-go/pkg/cache"
	"github.com/fractal-im/fractal-go/pkg/matrix"
	"github.com/fractal-im/fractal-go/pkg/model"
	"github.com/fractal-im/fractal-go/pkg/secret"
)

func unmarshal(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}

// pageLimit is the number of messages requested per timeline page.
const pageLimit = 40

// session is the process-wide mutable state shared by all operations.
// Holders take the backend lock, touch a field or two and release
// before any blocking I/O.
type session struct {
	baseURL     string
	accessToken string
	uid         string
	username    string
	since       string
	txnCounter  uint64
	roomsSince  string
	joinTarget  string
}

type Backend struct {
	v   *viper.Viper
	cfg *config.Config
	api *matrix.Client

	creds     secret.Store
	roomCache *cache.Cache
	markers   *markerStore
	users     *userCache

	mediaSem *semaphore.Weighted

	mu          sync.Mutex
	session     session
	activeRoom  string
	pagination  map[string]string
	knownRooms  map[string]*model.Room
	syncRunning bool

	// Commands is single-producer: the presentation layer enqueues,
	// Run consumes. Responses is multi-producer.
	Commands  chan *Command
	Responses chan *Response

	quit     chan struct{}
	quitOnce sync.Once

	rootLogger *logrus.Logger
	logger     *logrus.Entry
}

func New(v *viper.Viper) (*Backend, error) {
	cfg, err := config.Decode(v)
	if err != nil {
		return nil, err
	}

	rootLogger := logrus.New()
	rootLogger.SetFormatter(&prefixed.TextFormatter{
		PrefixPadding: 14,
		FullTimestamp: true,
	})

	if cfg.Debug {
		rootLogger.SetLevel(logrus.DebugLevel)
	}

	if cfg.Trace {
		rootLogger.SetLevel(logrus.TraceLevel)
	}

	logger := rootLogger.WithFields(logrus.Fields{"prefix": "backend"})

	api := matrix.NewClient()
	api.SetLogger(rootLogger.WithFields(logrus.Fields{"prefix": "matrix"}))

	markers, err := openMarkerStore(cfg.CacheDir)
	if err != nil {
		// The marker store is advisory, like the room cache.
		logger.Warnf("read-marker store unavailable: %v", err)
	}

	b := &Backend{
		v:          v,
		cfg:        cfg,
		api:        api,
		creds:      secret.Open(cfg.Credentials.Backend, cfg.ConfigDir, rootLogger.WithFields(logrus.Fields{"prefix": "secret"})),
		roomCache:  cache.New(cfg.CacheDir, rootLogger.WithFields(logrus.Fields{"prefix": "cache"})),
		markers:    markers,
		mediaSem:   semaphore.NewWeighted(int64(cfg.Media.Workers)),
		pagination: make(map[string]string),
		knownRooms: make(map[string]*model.Room),
		Commands:   make(chan *Command, 64),
		Responses:  make(chan *Response, 256),
		quit:       make(chan struct{}),
		rootLogger: rootLogger,
		logger:     logger,
	}

	b.users = newUserCache(b)

	b.mu.Lock()
	b.session.baseURL = cfg.Server
	b.mu.Unlock()

	return b, nil
}

// Run is the dispatcher: it consumes commands until ShutDown or the
// command channel closes. Operations that touch the network run on
// short-lived workers; Run itself never blocks on I/O.
func (b *Backend) Run() {
	defer b.close()

	for cmd := range b.Commands {
		if cmd == nil {
			continue
		}

		b.logger.Debugf("command %s", cmd.Type)

		if cmd.Type == CmdShutDown {
			return
		}

		b.dispatch(cmd)
	}
}

//nolint:funlen,gocyclo
func (b *Backend) dispatch(cmd *Command) {
	switch cmd.Type {
	case CmdLogin:
		d, _ := cmd.Data.(LoginData)
		go b.login(d.Username, d.Password, d.Server)
	case CmdSetToken:
		d, _ := cmd.Data.(SetTokenData)
		b.setToken(d.Token, d.UID, d.Server)
	case CmdLogout:
		go b.logout()
	case CmdRegister:
		d, _ := cmd.Data.(RegisterData)
		go b.register(d.Username, d.Password, d.Server)
	case CmdGuest:
		d, _ := cmd.Data.(GuestData)
		go b.guest(d.Server)
	case CmdGetUsername:
		go b.getUsername()
	case CmdGetAvatar:
		go b.getAvatar()
	case CmdGetUserInfoAsync:
		d, _ := cmd.Data.(GetUserInfoData)
		b.users.getAsync(d.UID, d.Reply)
	case CmdSync:
		go b.runSyncLoop()
	case CmdSyncForced:
		b.mu.Lock()
		b.session.since = ""
		b.mu.Unlock()

		go b.runSyncLoop()
	case CmdSetRoom:
		d, _ := cmd.Data.(SetRoomData)
		b.setRoom(d.RoomID)
	case CmdGetRoomMessages:
		d, _ := cmd.Data.(GetRoomMessagesData)
		go b.getRoomMessages(d.RoomID)
	case CmdGetMessageContext:
		d, _ := cmd.Data.(GetMessageContextData)
		go b.getMessageContext(d.Msg)
	case CmdSendMsg:
		d, _ := cmd.Data.(SendMsgData)
		go b.sendMsg(d.Msg)
	case CmdGetRoomAvatar:
		d, _ := cmd.Data.(GetRoomAvatarData)
		go b.getRoomAvatar(d.RoomID)
	case CmdJoinRoom:
		d, _ := cmd.Data.(JoinRoomData)
		go b.joinRoom(d.RoomID)
	case CmdAcceptInv:
		d, _ := cmd.Data.(JoinRoomData)
		go b.joinRoom(d.RoomID)
	case CmdLeaveRoom:
		d, _ := cmd.Data.(LeaveRoomData)
		go b.leaveRoom(d.RoomID)
	case CmdRejectInv:
		d, _ := cmd.Data.(LeaveRoomData)
		go b.leaveRoom(d.RoomID)
	case CmdMarkAsRead:
		d, _ := cmd.Data.(MarkAsReadData)
		go b.markAsRead(d.RoomID, d.EventID)
	case CmdSetRoomName:
		d, _ := cmd.Data.(SetRoomNameData)
		go b.setRoomName(d.RoomID, d.Name)
	case CmdSetRoomTopic:
		d, _ := cmd.Data.(SetRoomTopicData)
		go b.setRoomTopic(d.RoomID, d.Topic)
	case CmdSetRoomAvatar:
		d, _ := cmd.Data.(SetRoomAvatarData)
		go b.setRoomAvatar(d.RoomID, d.Path)
	case CmdAttachFile, CmdAttachImage:
		d, _ := cmd.Data.(AttachFileData)
		go b.attachFile(d.Msg)
	case CmdNewRoom:
		d, _ := cmd.Data.(NewRoomData)
		go b.newRoom(d.Name, d.Visibility, d.ClientID)
	case CmdDirectChat:
		d, _ := cmd.Data.(DirectChatData)
		go b.directChat(d.User, d.ClientID)
	case CmdAddToFav:
		d, _ := cmd.Data.(AddToFavData)
		go b.addToFav(d.RoomID, d.Fav)
	case CmdSearch:
		d, _ := cmd.Data.(SearchData)
		go b.search(d.RoomID, d.Term)
	case CmdUserSearch:
		d, _ := cmd.Data.(UserSearchData)
		go b.userSearch(d.Term)
	case CmdInvite:
		d, _ := cmd.Data.(InviteData)
		go b.invite(d.RoomID, d.UserID)
	case CmdGetThumbAsync:
		d, _ := cmd.Data.(GetThumbAsyncData)
		go b.getThumbAsync(d.MXC, d.Width, d.Height, d.Reply)
	case CmdGetMediaAsync:
		d, _ := cmd.Data.(GetMediaAsyncData)
		go b.getMediaAsync(d.MXC, d.Reply)
	case CmdGetFileAsync:
		d, _ := cmd.Data.(GetMediaAsyncData)
		go b.getMediaAsync(d.MXC, d.Reply)
	case CmdGetMedia:
		d, _ := cmd.Data.(GetMediaData)
		go b.getMedia(d.MXC)
	case CmdDirectoryProtocols:
		go b.directoryProtocols()
	case CmdDirectorySearch:
		d, _ := cmd.Data.(DirectorySearchData)
		go b.directorySearch(d.Query, d.Protocol, d.More)
	default:
		b.logger.Warnf("unknown command %q dropped", cmd.Type)
	}
}

// send publishes a response unless the engine is shutting down, in
// which case the response is dropped.
func (b *Backend) send(r *Response) {
	select {
	case b.Responses <- r:
	case <-b.quit:
	}
}

func (b *Backend) sendError(command string, err error) {
	b.logger.Debugf("%s failed: %v", command, err)
	b.send(&Response{Type: RespCommandError, Data: CommandErrorData{Command: command, Err: err}})
}

func (b *Backend) close() {
	b.quitOnce.Do(func() {
		close(b.quit)
	})

	b.storeSnapshot()

	if b.markers != nil {
		b.markers.Close()
	}

	b.logger.Info("backend stopped")
}

// snapshotCreds returns the fields the sync loop and workers need,
// without holding the lock across I/O.
func (b *Backend) snapshotCreds() (baseURL, token, uid string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.session.baseURL, b.session.accessToken, b.session.uid
}

func (b *Backend) clientURL(fragment string, params []matrix.Param) (string, error) {
	base, token, _ := b.snapshotCreds()
	if token == "" {
		return "", matrix.ErrNotAuthenticated
	}

	return matrix.ClientURL(base, fragment, append(params, matrix.Param{Key: "access_token", Value: token}))
}
