package secret

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	busName     = "org.freedesktop.secrets"
	servicePath = dbus.ObjectPath("/org/freedesktop/secrets")

	serviceIface    = "org.freedesktop.Secret.Service"
	collectionIface = "org.freedesktop.Secret.Collection"
	itemIface       = "org.freedesktop.Secret.Item"
)

// dbusSecret is the (session, parameters, value, content_type) struct
// of the Secret Service wire format.
type dbusSecret struct {
	Session     dbus.ObjectPath
	Params      []byte
	Value       []byte
	ContentType string
}

// KeyringStore talks to the desktop Secret Service (gnome-keyring,
// KWallet) over D-Bus using a plain session.
type KeyringStore struct {
	conn    *dbus.Conn
	session dbus.ObjectPath
	logger  *logrus.Entry
}

func NewKeyringStore(logger *logrus.Entry) (*KeyringStore, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}

	service := conn.Object(busName, servicePath)

	var (
		output  dbus.Variant
		session dbus.ObjectPath
	)

	err = service.Call(serviceIface+".OpenSession", 0, "plain", dbus.MakeVariant("")).Store(&output, &session)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	return &KeyringStore{
		conn:    conn,
		session: session,
		logger:  logger,
	}, nil
}

func (k *KeyringStore) collection() (dbus.BusObject, error) {
	service := k.conn.Object(busName, servicePath)

	var path dbus.ObjectPath
	if err := service.Call(serviceIface+".ReadAlias", 0, "default").Store(&path); err != nil {
		return nil, err
	}

	if path == "/" {
		return nil, fmt.Errorf("no default collection")
	}

	// Best-effort unlock; a locked keyring that needs a prompt still
	// fails on read, which callers treat as "not logged in".
	var (
		unlocked []dbus.ObjectPath
		prompt   dbus.ObjectPath
	)

	_ = service.Call(serviceIface+".Unlock", 0, []dbus.ObjectPath{path}).Store(&unlocked, &prompt)

	return k.conn.Object(busName, path), nil
}

// itemsByLabel walks the collection and returns the items carrying
// one of the wanted labels, keyed by the label actually found.
func (k *KeyringStore) itemsByLabel(labels ...string) (map[string][]dbus.BusObject, error) {
	coll, err := k.collection()
	if err != nil {
		return nil, err
	}

	variant, err := coll.GetProperty(collectionIface + ".Items")
	if err != nil {
		return nil, err
	}

	paths, _ := variant.Value().([]dbus.ObjectPath)
	found := make(map[string][]dbus.BusObject)

	for _, p := range paths {
		item := k.conn.Object(busName, p)

		lv, err := item.GetProperty(itemIface + ".Label")
		if err != nil {
			continue
		}

		label, _ := lv.Value().(string)

		for _, want := range labels {
			if label == want {
				found[label] = append(found[label], item)
			}
		}
	}

	return found, nil
}

func (k *KeyringStore) attributes(item dbus.BusObject) map[string]string {
	v, err := item.GetProperty(itemIface + ".Attributes")
	if err != nil {
		return map[string]string{}
	}

	attrs, _ := v.Value().(map[string]string)
	if attrs == nil {
		attrs = map[string]string{}
	}

	return attrs
}

func (k *KeyringStore) secretValue(item dbus.BusObject) (string, error) {
	var sec dbusSecret
	if err := item.Call(itemIface+".GetSecret", 0, k.session).Store(&sec); err != nil {
		return "", err
	}

	return string(sec.Value), nil
}

func (k *KeyringStore) createItem(label string, attrs map[string]string, value string) error {
	coll, err := k.collection()
	if err != nil {
		return err
	}

	props := map[string]dbus.Variant{
		"org.freedesktop.Secret.Item.Label":      dbus.MakeVariant(label),
		"org.freedesktop.Secret.Item.Attributes": dbus.MakeVariant(attrs),
	}

	sec := dbusSecret{
		Session:     k.session,
		Value:       []byte(value),
		ContentType: "text/plain",
	}

	var (
		item   dbus.ObjectPath
		prompt dbus.ObjectPath
	)

	call := coll.Call(collectionIface+".CreateItem", 0, props, sec, true)

	return call.Store(&item, &prompt)
}

func (k *KeyringStore) deleteItem(item dbus.BusObject) {
	var prompt dbus.ObjectPath
	if err := item.Call(itemIface+".Delete", 0).Store(&prompt); err != nil {
		k.logger.Debugf("delete keyring item: %v", err)
	}
}

func (k *KeyringStore) StorePassword(username, password, server string) error {
	err := k.createItem(LabelPassword, map[string]string{
		"username": username,
		"server":   server,
	}, password)
	if err != nil {
		k.logger.Debugf("store password: %v", err)
		return ErrUnavailable
	}

	return nil
}

func (k *KeyringStore) Password() (string, string, string, error) {
	items, err := k.itemsByLabel(LabelPassword, legacyLabel)
	if err != nil {
		return "", "", "", ErrUnavailable
	}

	candidates := items[LabelPassword]

	// Entries written under the legacy label are adopted and
	// rewritten under the current one.
	if len(candidates) == 0 && len(items[legacyLabel]) > 0 {
		old := items[legacyLabel][0]

		attrs := k.attributes(old)

		value, err := k.secretValue(old)
		if err != nil {
			return "", "", "", ErrUnavailable
		}

		if err := k.createItem(LabelPassword, attrs, value); err != nil {
			return "", "", "", ErrUnavailable
		}

		k.deleteItem(old)
		k.logger.Infof("migrated credentials from legacy keyring entry")

		return attrs["username"], value, attrs["server"], nil
	}

	if len(candidates) == 0 {
		return "", "", "", ErrUnavailable
	}

	item := candidates[0]
	attrs := k.attributes(item)

	value, err := k.secretValue(item)
	if err != nil {
		return "", "", "", ErrUnavailable
	}

	return attrs["username"], value, attrs["server"], nil
}

func (k *KeyringStore) StoreToken(uid, token string) error {
	err := k.createItem(LabelToken, map[string]string{"uid": uid}, token)
	if err != nil {
		k.logger.Debugf("store token: %v", err)
		return ErrUnavailable
	}

	return nil
}

func (k *KeyringStore) Token() (string, string, error) {
	items, err := k.itemsByLabel(LabelToken)
	if err != nil || len(items[LabelToken]) == 0 {
		return "", "", ErrUnavailable
	}

	item := items[LabelToken][0]

	value, err := k.secretValue(item)
	if err != nil {
		return "", "", ErrUnavailable
	}

	return value, k.attributes(item)["uid"], nil
}

func (k *KeyringStore) Delete(label string) error {
	items, err := k.itemsByLabel(label)
	if err != nil {
		return ErrUnavailable
	}

	for _, item := range items[label] {
		k.deleteItem(item)
	}

	return nil
}
