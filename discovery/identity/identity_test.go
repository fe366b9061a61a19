// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

package identity

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hpe-storage/iscsid-core/discovery/model"
	"github.com/hpe-storage/iscsid-core/discovery/store"
)

func fixedIfaces(mac string) Interfaces {
	return func() ([]net.Interface, error) {
		hw, err := net.ParseMAC(mac)
		if err != nil {
			return nil, err
		}
		return []net.Interface{
			{Name: "lo", HardwareAddr: nil},
			{Name: "eth0", HardwareAddr: hw},
		}, nil
	}
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestBootstrapGeneratesNameOnFirstBoot(t *testing.T) {
	st := store.NewMemStore()
	when := time.Unix(1700000000, 0)

	err := Bootstrap(st, fixedIfaces("0a:58:a9:fe:00:01"), fixedClock(when))
	assert.Nil(t, err)

	name, err := st.InitiatorNameGet()
	assert.Nil(t, err)
	assert.True(t, strings.HasPrefix(name, "iqn.1986-03.com.sun:01:0a58a9fe0001."))
}

func TestBootstrapIsNoOpForExistingName(t *testing.T) {
	st := store.NewMemStore()
	assert.Nil(t, st.InitiatorNameSet("iqn.already.set"))

	err := Bootstrap(st, fixedIfaces("0a:58:a9:fe:00:01"), fixedClock(time.Unix(1, 0)))
	assert.Nil(t, err)

	name, err := st.InitiatorNameGet()
	assert.Nil(t, err)
	assert.Equal(t, "iqn.already.set", name)
}

func TestBootstrapSeedsAliasOnlyWhenEmpty(t *testing.T) {
	st := store.NewMemStore()
	assert.Nil(t, st.AliasNameSet("preset-alias"))

	assert.Nil(t, Bootstrap(st, fixedIfaces("0a:58:a9:fe:00:01"), fixedClock(time.Unix(1, 0))))

	alias, err := st.AliasNameGet()
	assert.Nil(t, err)
	assert.Equal(t, "preset-alias", alias)
}

func TestBootstrapSeedsChapWithDerivedSecretUsingInitiatorName(t *testing.T) {
	st := store.NewMemStore()

	assert.Nil(t, Bootstrap(st, fixedIfaces("0a:58:a9:fe:00:01"), fixedClock(time.Unix(1, 0))))

	name, _ := st.InitiatorNameGet()
	chap, err := st.ChapGet()
	assert.Nil(t, err)
	assert.Equal(t, name, chap.User)
	assert.NotEqual(t, "", chap.Secret)
}

func TestBootstrapLeavesExistingEmptyChapSecretAlone(t *testing.T) {
	st := store.NewMemStore()
	assert.Nil(t, st.InitiatorNameSet("iqn.already.set"))
	assert.Nil(t, st.ChapSet(model.ChapRecord{User: "iqn.already.set", Secret: ""}))

	assert.Nil(t, Bootstrap(st, fixedIfaces("0a:58:a9:fe:00:01"), fixedClock(time.Unix(1, 0))))

	chap, err := st.ChapGet()
	assert.Nil(t, err)
	assert.Equal(t, "", chap.Secret)
}

func TestBootstrapFailsWithoutAnyHardwareNIC(t *testing.T) {
	st := store.NewMemStore()
	noHW := func() ([]net.Interface, error) {
		return []net.Interface{{Name: "lo"}}, nil
	}

	err := Bootstrap(st, noHW, fixedClock(time.Unix(1, 0)))
	assert.NotNil(t, err)
}

func TestFingerprintSecretIsDeterministic(t *testing.T) {
	a := FingerprintSecret("0a58a9fe0001", "host-dev", 4096)
	b := FingerprintSecret("0a58a9fe0001", "host-dev", 4096)
	c := FingerprintSecret("0a58a9fe0002", "host-dev", 4096)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
