package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/itohio/goowbus/pkg/bus"
	"github.com/itohio/goowbus/pkg/dallas"
	"github.com/itohio/goowbus/pkg/device"
	"github.com/itohio/goowbus/pkg/filter"
)

var (
	thermo  = dallas.MakeRom(dallas.FamilyDS18B20, 1)
	switch1 = dallas.MakeRom(dallas.FamilyDS2408, 2)
	adc1    = dallas.MakeRom(dallas.FamilyDS2450, 3)
)

func newServerForTesting(is *is.I) (*httptest.Server, *dallas.Sim, *bus.Bus) {
	sim := dallas.NewSim()
	sim.AddThermometer(thermo, dallas.Constant(20))
	sim.AddSwitch(switch1, nil)
	sim.AddAdc(adc1, [dallas.AdcChannels]dallas.Signal{dallas.Constant(1), dallas.Constant(2), nil, nil})

	b := bus.New(sim, "sim",
		bus.WithClock(clock.NewMock()),
		bus.WithFilter(filter.Spec{Kind: filter.KindNone}, 0),
	)
	is.NoErr(b.SearchDevices())

	s := New(b, zerolog.Nop())
	return httptest.NewServer(s.Handler()), sim, b
}

func testRequest(is *is.I, ts *httptest.Server, method, path string, body io.Reader) (*http.Response, string) {
	req, err := http.NewRequest(method, ts.URL+path, body)
	is.NoErr(err)
	resp, err := http.DefaultClient.Do(req)
	is.NoErr(err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	is.NoErr(err)

	return resp, string(respBody)
}

func TestThatHealthEndpointReturns204(t *testing.T) {
	is := is.New(t)
	ts, _, _ := newServerForTesting(is)
	defer ts.Close()

	resp, _ := testRequest(is, ts, "GET", "/health", nil)

	is.Equal(resp.StatusCode, http.StatusNoContent) // health endpoint status code not ok
}

func TestDevicesListsSnapshotsInDiscoveryOrder(t *testing.T) {
	is := is.New(t)
	ts, _, _ := newServerForTesting(is)
	defer ts.Close()

	resp, body := testRequest(is, ts, "GET", "/devices", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(resp.Header.Get("Content-Type"), "application/json")

	var snaps []device.Snapshot
	is.NoErr(json.Unmarshal([]byte(body), &snaps))
	is.Equal(len(snaps), 3)
	is.Equal(snaps[0].ID, dallas.RomString(thermo))
	is.Equal(snaps[0].Family, "DS18B20")
	is.Equal(snaps[0].Channels[0].Value, 20.0)
	is.Equal(snaps[1].Family, "DS2408")
	is.Equal(len(snaps[1].Channels), 8)
	is.Equal(snaps[2].Family, "DS2450")
}

func TestDeviceLookup(t *testing.T) {
	is := is.New(t)
	ts, _, _ := newServerForTesting(is)
	defer ts.Close()

	resp, body := testRequest(is, ts, "GET", "/devices/"+dallas.RomString(adc1), nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	var snap device.Snapshot
	is.NoErr(json.Unmarshal([]byte(body), &snap))
	is.Equal(snap.ID, dallas.RomString(adc1))
	is.Equal(len(snap.Channels), 4)

	resp, _ = testRequest(is, ts, "GET", "/devices/not-a-rom", nil)
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, "GET", "/devices/"+dallas.RomString(dallas.MakeRom(dallas.FamilyDS2408, 99)), nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func TestStartStop(t *testing.T) {
	is := is.New(t)
	ts, _, b := newServerForTesting(is)
	defer ts.Close()
	defer b.Stop()

	resp, _ := testRequest(is, ts, "POST", "/bus/start", nil)
	is.Equal(resp.StatusCode, http.StatusNoContent)
	is.True(b.Running())

	resp, body := testRequest(is, ts, "GET", "/stats", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	var st statsResponse
	is.NoErr(json.Unmarshal([]byte(body), &st))
	is.True(st.Running)
	is.Equal(st.Devices, 3)

	resp, _ = testRequest(is, ts, "POST", "/bus/stop", nil)
	is.Equal(resp.StatusCode, http.StatusNoContent)
	is.True(!b.Running())
}

func TestSearch(t *testing.T) {
	is := is.New(t)
	ts, sim, _ := newServerForTesting(is)
	defer ts.Close()

	sim.Remove(thermo)
	resp, body := testRequest(is, ts, "POST", "/bus/search", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	var sr searchResponse
	is.NoErr(json.Unmarshal([]byte(body), &sr))
	is.Equal(len(sr.Devices), 2)
	is.Equal(sr.Error, "")

	sim.FailNext(dallas.OpInit, dallas.PortFailure)
	resp, body = testRequest(is, ts, "POST", "/bus/search", nil)
	is.Equal(resp.StatusCode, http.StatusBadGateway)
	is.NoErr(json.Unmarshal([]byte(body), &sr))
	is.Equal(len(sr.Devices), 0)
	is.True(sr.Error != "")

	resp, body = testRequest(is, ts, "GET", "/stats", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	var st statsResponse
	is.NoErr(json.Unmarshal([]byte(body), &st))
	is.True(st.LastSearchError != "")
}

func TestSetOutput(t *testing.T) {
	is := is.New(t)
	ts, sim, _ := newServerForTesting(is)
	defer ts.Close()

	path := "/devices/" + dallas.RomString(switch1) + "/outputs/3"
	resp, body := testRequest(is, ts, "PUT", path, strings.NewReader(`{"active":true}`))
	is.Equal(resp.StatusCode, http.StatusOK)
	var snap device.Snapshot
	is.NoErr(json.Unmarshal([]byte(body), &snap))
	is.True(*snap.Channels[3].Output)
	latch, _ := sim.Outputs(switch1)
	is.Equal(latch, uint8(0xF7))

	// a failed write leaves the output as it was
	sim.FailNext(dallas.OpWriteOutputs, dallas.CRC)
	resp, _ = testRequest(is, ts, "PUT", path, strings.NewReader(`{"active":false}`))
	is.Equal(resp.StatusCode, http.StatusBadGateway)
	resp, body = testRequest(is, ts, "GET", "/devices/"+dallas.RomString(switch1), nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.NoErr(json.Unmarshal([]byte(body), &snap))
	is.True(*snap.Channels[3].Output)

	resp, _ = testRequest(is, ts, "PUT", "/devices/"+dallas.RomString(switch1)+"/outputs/8", strings.NewReader(`{"active":true}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, "PUT", "/devices/"+dallas.RomString(switch1)+"/outputs/x", strings.NewReader(`{"active":true}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, "PUT", path, strings.NewReader(`{`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, "PUT", "/devices/"+dallas.RomString(thermo)+"/outputs/0", strings.NewReader(`{"active":true}`))
	is.Equal(resp.StatusCode, http.StatusConflict)
}

func TestSetAdcOutput(t *testing.T) {
	is := is.New(t)
	ts, sim, _ := newServerForTesting(is)
	defer ts.Close()

	resp, _ := testRequest(is, ts, "PUT", "/devices/"+dallas.RomString(adc1)+"/outputs/1", strings.NewReader(`{"active":true}`))
	is.Equal(resp.StatusCode, http.StatusOK)
	_, outs := sim.Outputs(adc1)
	is.Equal(outs[1], dallas.OutputLow)
}

func TestSetResolution(t *testing.T) {
	is := is.New(t)
	ts, sim, _ := newServerForTesting(is)
	defer ts.Close()

	path := "/devices/" + dallas.RomString(thermo) + "/resolution"
	resp, body := testRequest(is, ts, "PUT", path, strings.NewReader(`{"bits":10}`))
	is.Equal(resp.StatusCode, http.StatusOK)
	var snap device.Snapshot
	is.NoErr(json.Unmarshal([]byte(body), &snap))
	is.Equal(snap.Channels[0].Resolution, 10)
	is.Equal(sim.Calls(dallas.OpWriteResolution), 1)

	resp, _ = testRequest(is, ts, "PUT", path, strings.NewReader(`{"bits":13}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	sim.FailNext(dallas.OpWriteResolution, dallas.Timeout)
	resp, _ = testRequest(is, ts, "PUT", path, strings.NewReader(`{"bits":9}`))
	is.Equal(resp.StatusCode, http.StatusBadGateway)
	resp, body = testRequest(is, ts, "GET", "/devices/"+dallas.RomString(thermo), nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.NoErr(json.Unmarshal([]byte(body), &snap))
	is.Equal(snap.Channels[0].Resolution, 10)

	resp, _ = testRequest(is, ts, "PUT", "/devices/"+dallas.RomString(adc1)+"/resolution", strings.NewReader(`{"bits":10}`))
	is.Equal(resp.StatusCode, http.StatusConflict)
}

func TestSetResolutionOnFixedResolutionThermometer(t *testing.T) {
	is := is.New(t)
	a := dallas.MakeRom(dallas.FamilyDS18S20, 7)
	sim := dallas.NewSim()
	sim.AddThermometer(a, dallas.Constant(20))
	b := bus.New(sim, "sim", bus.WithClock(clock.NewMock()))
	is.NoErr(b.SearchDevices())
	ts := httptest.NewServer(New(b, zerolog.Nop()).Handler())
	defer ts.Close()

	path := "/devices/" + dallas.RomString(a) + "/resolution"
	resp, _ := testRequest(is, ts, "PUT", path, strings.NewReader(`{"bits":12}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)
	is.Equal(sim.Calls(dallas.OpWriteResolution), 0)

	resp, body := testRequest(is, ts, "PUT", path, strings.NewReader(`{"bits":9}`))
	is.Equal(resp.StatusCode, http.StatusOK)
	var snap device.Snapshot
	is.NoErr(json.Unmarshal([]byte(body), &snap))
	is.Equal(snap.Channels[0].Resolution, 9)
}

func TestSetAdcChannel(t *testing.T) {
	is := is.New(t)
	ts, _, b := newServerForTesting(is)
	defer ts.Close()

	path := "/devices/" + dallas.RomString(adc1) + "/adc/2"
	resp, body := testRequest(is, ts, "PUT", path, strings.NewReader(`{"resolution":12,"range":"5.12V","filter":{"type":"median","median_window":3},"discreteness":0.01}`))
	is.Equal(resp.StatusCode, http.StatusOK)
	var snap device.Snapshot
	is.NoErr(json.Unmarshal([]byte(body), &snap))
	is.Equal(snap.Channels[2].Resolution, 12)
	is.Equal(snap.Channels[2].Range, "5.12V")

	d, ok := b.Device(adc1)
	is.True(ok)
	c := d.(*device.Adc).Settings()[2]
	is.Equal(c.Filter, filter.Spec{Kind: filter.KindMedian, MedianWindow: 3})
	is.Equal(c.Discreteness, 0.01)

	resp, _ = testRequest(is, ts, "PUT", path, strings.NewReader(`{"range":"10V"}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, "PUT", path, strings.NewReader(`{"resolution":17}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, "PUT", "/devices/"+dallas.RomString(adc1)+"/adc/4", strings.NewReader(`{}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, "PUT", "/devices/"+dallas.RomString(switch1)+"/adc/0", strings.NewReader(`{}`))
	is.Equal(resp.StatusCode, http.StatusConflict)
}

func TestSetAdcChannelConcurrent(t *testing.T) {
	is := is.New(t)
	ts, _, b := newServerForTesting(is)
	defer ts.Close()

	var wg sync.WaitGroup
	codes := make([]int, dallas.AdcChannels)
	for ch := 0; ch < dallas.AdcChannels; ch++ {
		wg.Add(1)
		go func(ch int) {
			defer wg.Done()
			path := fmt.Sprintf("/devices/%s/adc/%d", dallas.RomString(adc1), ch)
			body := fmt.Sprintf(`{"resolution":%d}`, 9+ch)
			req, err := http.NewRequest("PUT", ts.URL+path, strings.NewReader(body))
			if err != nil {
				return
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			codes[ch] = resp.StatusCode
		}(ch)
	}
	wg.Wait()

	d, ok := b.Device(adc1)
	is.True(ok)
	settings := d.(*device.Adc).Settings()
	for ch := 0; ch < dallas.AdcChannels; ch++ {
		is.Equal(codes[ch], http.StatusOK)
		is.Equal(settings[ch].Resolution, uint8(9+ch)) // every concurrent update is kept
	}
}
