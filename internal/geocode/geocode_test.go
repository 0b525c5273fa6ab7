package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAddress(t *testing.T) {
	tests := []struct {
		name string
		addr osmAddress
		want string
	}{
		{
			name: "full urban address",
			addr: osmAddress{
				HouseNumber:  "12",
				Road:         "Phố Huế",
				Suburb:       "Phường Hàng Bài",
				CityDistrict: "Quận Hoàn Kiếm",
				City:         "Hà Nội",
			},
			want: "12 Phố Huế, Phường Hàng Bài, Q. Hoàn Kiếm, TP. Hà Nội",
		},
		{
			name: "rural county keeps H. prefix",
			addr: osmAddress{
				Road:         "ĐT427",
				Village:      "Xã Hồng Minh",
				CityDistrict: "Huyện Phú Xuyên",
				State:        "Hà Nội",
			},
			want: "ĐT427, Xã Hồng Minh, H. Phú Xuyên, Hà Nội",
		},
		{
			name: "city already prefixed",
			addr: osmAddress{
				Road: "Nguyễn Huệ",
				City: "Thành phố Hồ Chí Minh",
			},
			want: "Nguyễn Huệ, Thành phố Hồ Chí Minh",
		},
		{
			name: "district without quan keyword",
			addr: osmAddress{
				Road:         "Main St",
				Quarter:      "Old Quarter",
				CityDistrict: "Downtown",
				City:         "Springfield",
			},
			want: "Main St, Old Quarter, Downtown, TP. Springfield",
		},
		{
			name: "plain district fallback",
			addr: osmAddress{District: "Ba Đình", State: "Hà Nội"},
			want: "Ba Đình, Hà Nội",
		},
		{
			name: "empty components",
			addr: osmAddress{},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatAddress(tt.addr))
		})
	}
}

func TestReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "18", q.Get("zoom"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"address":{"house_number":"12","road":"Phố Huế","suburb":"Hàng Bài","city_district":"Quận Hoàn Kiếm","city":"Hà Nội"}}`))
	}))
	defer srv.Close()

	client := NewClientWithEndpoint(srv.URL)
	addr, err := client.Reverse(context.Background(), 21.028511, 105.804817)
	require.NoError(t, err)
	assert.Equal(t, "12 Phố Huế, Hàng Bài, Q. Hoàn Kiếm, TP. Hà Nội", addr)
}

func TestReverse_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClientWithEndpoint(srv.URL).Reverse(context.Background(), 21.0, 105.8)
	assert.Error(t, err)
}

func TestReverse_NoComponents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":{}}`))
	}))
	defer srv.Close()

	_, err := NewClientWithEndpoint(srv.URL).Reverse(context.Background(), 21.0, 105.8)
	assert.Error(t, err)
}
