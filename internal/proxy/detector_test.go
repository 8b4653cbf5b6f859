package proxy

import (
	"context"
	"fmt"
	"testing"

	"github.com/contractgraph/discovery/internal/chain"
	"github.com/contractgraph/discovery/internal/models"
	"github.com/stretchr/testify/require"
)

func TestDetectEIP1967Transparent(t *testing.T) {
	provider := chain.NewFakeProvider()
	proxyAddr := models.MustParseAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	implAddr := models.MustParseAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")

	provider.SetStorage(proxyAddr, implementationSlot, addressToHash(implAddr))
	provider.SetStorage(proxyAddr, adminSlot, addressToHash(models.MustParseAddress("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")))

	d := NewDetector(provider)
	res, err := d.Detect(context.Background(), proxyAddr, "")
	require.NoError(t, err)
	require.Equal(t, models.ProxyEIP1967Transparent, res.ProxyType)
	require.Equal(t, []models.Address{implAddr}, res.Implementation)
}

func TestDetectUUPSWhenAdminSlotEmpty(t *testing.T) {
	provider := chain.NewFakeProvider()
	proxyAddr := models.MustParseAddress("0xDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD")
	implAddr := models.MustParseAddress("0xEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE")
	provider.SetStorage(proxyAddr, implementationSlot, addressToHash(implAddr))

	d := NewDetector(provider)
	res, err := d.Detect(context.Background(), proxyAddr, "")
	require.NoError(t, err)
	require.Equal(t, models.ProxyUUPS, res.ProxyType)
}

func TestDetectImmutableDefault(t *testing.T) {
	provider := chain.NewFakeProvider()
	addr := models.MustParseAddress("0x00FF00000000000000000000000000000000000F")

	d := NewDetector(provider)
	res, err := d.Detect(context.Background(), addr, "")
	require.NoError(t, err)
	require.Equal(t, models.ProxyKind(""), res.ProxyType)
	require.Empty(t, res.Implementation)
}

func TestDetectGnosisSafeEIP1967Singleton(t *testing.T) {
	provider := chain.NewFakeProvider()
	proxyAddr := models.MustParseAddress("0x001111111111111111111111111111111111111A")
	singleton := models.MustParseAddress("0x002222222222222222222222222222222222222B")

	provider.SetStorage(proxyAddr, implementationSlot, addressToHash(singleton))
	provider.SetCall(singleton, selectorCalldata(singletonSelector), addressToHash(singleton).Bytes())

	d := NewDetector(provider)
	res, err := d.Detect(context.Background(), proxyAddr, "")
	require.NoError(t, err)
	require.Equal(t, models.ProxyGnosisSafe, res.ProxyType)
	require.Equal(t, []models.Address{singleton}, res.Implementation)
}

func TestDetectGnosisSafeEIP1967SlotFallsBackToUUPSWhenNotSafe(t *testing.T) {
	provider := chain.NewFakeProvider()
	proxyAddr := models.MustParseAddress("0x003333333333333333333333333333333333333C")
	implAddr := models.MustParseAddress("0x004444444444444444444444444444444444444D")

	provider.SetStorage(proxyAddr, implementationSlot, addressToHash(implAddr))
	// implAddr doesn't answer singleton() — ordinary UUPS, not a Safe.

	d := NewDetector(provider)
	res, err := d.Detect(context.Background(), proxyAddr, "")
	require.NoError(t, err)
	require.Equal(t, models.ProxyUUPS, res.ProxyType)
}

func TestDetectGnosisSafeLegacyMasterCopy(t *testing.T) {
	provider := chain.NewFakeProvider()
	proxyAddr := models.MustParseAddress("0x005555555555555555555555555555555555555E")
	singleton := models.MustParseAddress("0x006666666666666666666666666666666666666F")

	provider.SetStorage(proxyAddr, models.Hash{}, addressToHash(singleton))
	provider.SetCall(singleton, selectorCalldata(masterCopySelector), addressToHash(singleton).Bytes())

	d := NewDetector(provider)
	res, err := d.Detect(context.Background(), proxyAddr, "")
	require.NoError(t, err)
	require.Equal(t, models.ProxyGnosisSafe, res.ProxyType)
	require.Equal(t, []models.Address{singleton}, res.Implementation)
}

func TestDetectGnosisSafeLegacyRequiresMasterCopyConfirmation(t *testing.T) {
	provider := chain.NewFakeProvider()
	proxyAddr := models.MustParseAddress("0x007777777777777777777777777777777777777A")
	notSafe := models.MustParseAddress("0x008888888888888888888888888888888888888B")

	// slot 0 is nonzero but notSafe doesn't answer masterCopy() with itself.
	provider.SetStorage(proxyAddr, models.Hash{}, addressToHash(notSafe))

	d := NewDetector(provider)
	res, err := d.Detect(context.Background(), proxyAddr, "")
	require.NoError(t, err)
	require.Equal(t, models.ProxyKind(""), res.ProxyType)
}

func selectorCalldata(selector []byte) string {
	return fmt.Sprintf("0x%x", selector)
}

func addressToHash(a models.Address) models.Hash {
	var h models.Hash
	copy(h[12:], a[:])
	return h
}
