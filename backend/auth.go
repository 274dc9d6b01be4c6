package backend

import (
	"net/http"
	"strings"

	"github.com/fractal-im/fractal-go/pkg/matrix"
	"github.com/fractal-im/fractal-go/pkg/secret"
)

// normalizeServer turns user input like "matrix.org" into a base URL.
func normalizeServer(server string) string {
	if server == "" {
		return server
	}

	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		return "https://" + server
	}

	return server
}

func (b *Backend) login(username, password, server string) {
	server = normalizeServer(server)

	url, err := matrix.ClientURL(server, "login", nil)
	if err != nil {
		b.send(&Response{Type: RespLoginError, Data: CommandErrorData{Command: CmdLogin, Err: err}})
		return
	}

	body := map[string]interface{}{
		"type":                        "m.login.password",
		"user":                        username,
		"password":                    password,
		"initial_device_display_name": "Fractal",
	}

	var resp matrix.LoginResponse
	if err := b.api.RequestInto(http.MethodPost, url, body, &resp, matrix.DefaultTimeout); err != nil {
		b.send(&Response{Type: RespLoginError, Data: CommandErrorData{Command: CmdLogin, Err: err}})
		return
	}

	if resp.AccessToken == "" {
		b.send(&Response{Type: RespLoginError, Data: CommandErrorData{Command: CmdLogin, Err: matrix.ErrNotAuthenticated}})
		return
	}

	uid := resp.UserID
	if uid == "" {
		uid = username
	}

	b.adoptSession(server, resp.AccessToken, uid)
	b.setUsername(username)

	if err := b.creds.StorePassword(username, password, server); err != nil {
		b.logger.Warnf("could not persist password: %v", err)
	}

	if err := b.creds.StoreToken(uid, resp.AccessToken); err != nil {
		b.logger.Warnf("could not persist token: %v", err)
	}

	b.send(&Response{Type: RespToken, Data: TokenData{UID: uid, Token: resp.AccessToken}})

	go b.runSyncLoop()
}

// setToken restores a session from stored credentials; no network
// round trip is needed, the first sync validates the token.
func (b *Backend) setToken(token, uid, server string) {
	b.adoptSession(normalizeServer(server), token, uid)
	b.send(&Response{Type: RespToken, Data: TokenData{UID: uid, Token: token}})

	go b.runSyncLoop()
}

// ResumeSession restores the previous login from the credential
// store. It returns false when no token is stored, in which case the
// caller has to log in interactively.
func (b *Backend) ResumeSession() bool {
	token, uid, err := b.creds.Token()
	if err != nil || token == "" {
		return false
	}

	b.adoptSession("", token, uid)

	if username, _, _, err := b.creds.Password(); err == nil {
		b.setUsername(username)
	}

	b.RestoreFromCache()
	b.send(&Response{Type: RespToken, Data: TokenData{UID: uid, Token: token}})

	go b.runSyncLoop()

	return true
}

func (b *Backend) adoptSession(server, token, uid string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if server != "" {
		b.session.baseURL = server
	}

	b.session.accessToken = token
	b.session.uid = uid
	b.session.since = ""
	b.session.roomsSince = ""
}

func (b *Backend) setUsername(username string) {
	b.mu.Lock()
	b.session.username = username
	b.mu.Unlock()
}

func (b *Backend) logout() {
	url, err := b.clientURL("logout", nil)
	if err == nil {
		if _, err := b.api.RequestJSON(http.MethodPost, url, struct{}{}, matrix.DefaultTimeout); err != nil {
			b.logger.Debugf("logout request failed: %v", err)
		}
	}

	b.mu.Lock()
	b.session.accessToken = ""
	b.session.uid = ""
	b.session.username = ""
	b.session.since = ""
	b.session.roomsSince = ""
	b.session.joinTarget = ""
	b.mu.Unlock()

	if err := b.creds.Delete(secret.LabelPassword); err != nil {
		b.logger.Debugf("deleting password entry: %v", err)
	}

	if err := b.creds.Delete(secret.LabelToken); err != nil {
		b.logger.Debugf("deleting token entry: %v", err)
	}

	if err := b.roomCache.Destroy(); err != nil {
		b.logger.Debugf("destroying room cache: %v", err)
	}

	b.send(&Response{Type: RespLogout})
}

func (b *Backend) register(username, password, server string) {
	b.doRegister(username, password, server, "user", RespRegisterError, CmdRegister)
}

// guest registers a throwaway guest account on the server.
func (b *Backend) guest(server string) {
	b.doRegister("", "", server, "guest", RespGuestError, CmdGuest)
}

func (b *Backend) doRegister(username, password, server, kind, errResp, command string) {
	server = normalizeServer(server)

	url, err := matrix.ClientURL(server, "register", []matrix.Param{{Key: "kind", Value: kind}})
	if err != nil {
		b.send(&Response{Type: errResp, Data: CommandErrorData{Command: command, Err: err}})
		return
	}

	body := map[string]interface{}{
		"auth": map[string]interface{}{"type": "m.login.dummy"},
	}

	if username != "" {
		body["username"] = username
		body["password"] = password
	}

	var resp matrix.LoginResponse
	if err := b.api.RequestInto(http.MethodPost, url, body, &resp, matrix.DefaultTimeout); err != nil {
		b.send(&Response{Type: errResp, Data: CommandErrorData{Command: command, Err: err}})
		return
	}

	if resp.AccessToken == "" {
		b.send(&Response{Type: errResp, Data: CommandErrorData{Command: command, Err: matrix.ErrNotAuthenticated}})
		return
	}

	b.adoptSession(server, resp.AccessToken, resp.UserID)
	b.setUsername(username)

	if err := b.creds.StoreToken(resp.UserID, resp.AccessToken); err != nil {
		b.logger.Warnf("could not persist token: %v", err)
	}

	b.send(&Response{Type: RespToken, Data: TokenData{UID: resp.UserID, Token: resp.AccessToken}})

	go b.runSyncLoop()
}

func (b *Backend) getUsername() {
	_, _, uid := b.snapshotCreds()

	name := uid

	url, err := b.clientURL("profile/"+uid+"/displayname", nil)
	if err == nil {
		var resp matrix.ProfileResponse
		if err := b.api.RequestInto(http.MethodGet, url, nil, &resp, matrix.DefaultTimeout); err == nil && resp.DisplayName != "" {
			name = resp.DisplayName
		}
	}

	b.send(&Response{Type: RespName, Data: NameData{Name: name}})
}

func (b *Backend) getAvatar() {
	_, _, uid := b.snapshotCreds()

	path, err := b.userAvatar(uid)
	if err != nil {
		b.sendError(CmdGetAvatar, err)
		path = ""
	}

	b.send(&Response{Type: RespAvatar, Data: AvatarData{Path: path}})
}

// ThreePIDs lists the third-party identifiers bound to the account.
func (b *Backend) ThreePIDs() ([]matrix.ThreePID, error) {
	url, err := b.clientURL("account/3pid", nil)
	if err != nil {
		return nil, err
	}

	var resp matrix.ThreePIDResponse
	if err := b.api.RequestInto(http.MethodGet, url, nil, &resp, matrix.DefaultTimeout); err != nil {
		return nil, err
	}

	return resp.ThreePIDs, nil
}

// ChangePassword rotates the account password. The server answers
// M_THREEPID_IN_USE style errors verbatim inside the returned error.
func (b *Backend) ChangePassword(username, oldPassword, newPassword string) error {
	url, err := b.clientURL("account/password", nil)
	if err != nil {
		return err
	}

	body := map[string]interface{}{
		"new_password": newPassword,
		"auth": map[string]interface{}{
			"type":     "m.login.password",
			"user":     username,
			"password": oldPassword,
		},
	}

	_, err = b.api.RequestJSON(http.MethodPost, url, body, matrix.DefaultTimeout)

	return err
}

// DeactivateAccount permanently deactivates the account and clears
// the local session.
func (b *Backend) DeactivateAccount(username, password string) error {
	url, err := b.clientURL("account/deactivate", nil)
	if err != nil {
		return err
	}

	body := map[string]interface{}{
		"auth": map[string]interface{}{
			"type":     "m.login.password",
			"user":     username,
			"password": password,
		},
	}

	if _, err := b.api.RequestJSON(http.MethodPost, url, body, matrix.DefaultTimeout); err != nil {
		return err
	}

	b.logout()

	return nil
}
